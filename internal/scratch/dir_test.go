package scratch_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kloak/internal/media/container"
	"kloak/internal/scratch"
	"kloak/internal/testsupport"
)

func TestCreateAndRelease(t *testing.T) {
	dir, err := scratch.Open(filepath.Join(t.TempDir(), "scratch"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })

	f, err := dir.Create(".mp4")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	name := f.Name()
	_ = f.Close()
	if !strings.HasSuffix(name, ".mp4") {
		t.Fatalf("expected mp4 extension, got %s", name)
	}
	if dir.Live() != 1 {
		t.Fatalf("expected one live file, got %d", dir.Live())
	}

	if err := dir.Release(name); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := dir.Release(name); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if files, _ := scratch.Files(dir.Path()); len(files) != 0 {
		t.Fatalf("expected empty scratch dir, got %v", files)
	}
}

func TestCloseRemovesLeakedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch")
	dir, err := scratch.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f, err := dir.Create("jpg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = f.Close()

	if err := dir.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if files, _ := scratch.Files(path); len(files) != 0 {
		t.Fatalf("expected leaked file to be removed, got %v", files)
	}
	if _, err := dir.Create("jpg"); err == nil {
		t.Fatal("expected Create on closed dir to fail")
	}
}

func TestSweepRespectsLiveDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch")
	testsupport.WriteFile(t, filepath.Join(path, "stale.mp4"), []byte("left behind"))

	dir, err := scratch.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if files, _ := scratch.Files(path); len(files) != 0 {
		t.Fatalf("expected Open to sweep stale files, got %v", files)
	}

	testsupport.WriteFile(t, filepath.Join(path, "other.mp4"), []byte("in use"))
	removed, err := scratch.Sweep(path)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected sweep to skip a locked directory, removed %d", removed)
	}

	if err := dir.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	removed, err = scratch.Sweep(path)
	if err != nil {
		t.Fatalf("Sweep after close: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one stale file removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(path, scratch.LockName)); err != nil {
		t.Fatalf("lock file should survive sweep: %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := scratch.Open("  ", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCleanFilename(t *testing.T) {
	now := time.Unix(1753697700, 0)
	tests := []struct {
		kind container.Kind
		want string
	}{
		{container.Jpeg, "image_1753697700.jpg"},
		{container.Heic, "image_1753697700.jpg"},
		{container.Png, "image_1753697700.png"},
		{container.Mp4Mov, "video_1753697700.mp4"},
		{container.Unknown, "media_1753697700.bin"},
	}
	for _, tt := range tests {
		if got := scratch.CleanFilename(tt.kind, now); got != tt.want {
			t.Fatalf("CleanFilename(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
