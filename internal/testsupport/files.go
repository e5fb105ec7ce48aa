package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ListDir returns the names of the entries in dir, failing the test on error.
// A missing directory yields an empty list.
func ListDir(t testing.TB, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// FakeFFmpeg writes a shell script that ignores its arguments and prints the
// contents of frame to stdout, mimicking `ffmpeg ... -f image2pipe -`. When
// exitCode is non-zero the script prints an error to stderr and fails.
func FakeFFmpeg(t testing.TB, frame []byte, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs require a POSIX shell")
	}

	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.png")
	WriteFile(t, framePath, frame)

	script := fmt.Sprintf("#!/bin/sh\ncat %q\n", framePath)
	if exitCode != 0 {
		script = fmt.Sprintf("#!/bin/sh\necho 'Invalid data found when processing input' >&2\nexit %d\n", exitCode)
	}
	bin := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return bin
}
