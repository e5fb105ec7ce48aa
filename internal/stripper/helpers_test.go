package stripper_test

import (
	"path/filepath"
	"testing"

	"kloak/internal/media/ffmpeg"
	"kloak/internal/scratch"
	"kloak/internal/stripper"
)

func newStripper(t *testing.T, decoder stripper.FrameDecoder) (*stripper.Stripper, *scratch.Dir) {
	t.Helper()
	dir, err := scratch.Open(filepath.Join(t.TempDir(), "scratch"), nil)
	if err != nil {
		t.Fatalf("open scratch: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })
	s, err := stripper.New(stripper.Options{Scratch: dir, Decoder: decoder})
	if err != nil {
		t.Fatalf("new stripper: %v", err)
	}
	return s, dir
}

func assertScratchEmpty(t *testing.T, dir *scratch.Dir) {
	t.Helper()
	files, err := scratch.Files(dir.Path())
	if err != nil {
		t.Fatalf("list scratch: %v", err)
	}
	if len(files) != 0 || dir.Live() != 0 {
		t.Fatalf("expected empty scratch dir, got %v (%d live)", files, dir.Live())
	}
}

func newStripperWithFFmpeg(t *testing.T, dir *scratch.Dir, binary string) (*stripper.Stripper, error) {
	t.Helper()
	return stripper.New(stripper.Options{Scratch: dir, Decoder: ffmpeg.NewDecoder(binary, dir)})
}
