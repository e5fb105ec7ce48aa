package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"kloak/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckPrivateDirectory is CheckDirectoryAccess plus a check that group and
// other have no access, since scratch files hold unstripped media.
func CheckPrivateDirectory(name, path string) Result {
	result := CheckDirectoryAccess(name, path)
	if !result.Passed {
		return result
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: mode %04o is readable by others)", path, perm)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (private)", path)}
}

// CheckFFmpeg reports whether HEIC decoding is available. A missing binary
// is not blocking.
func CheckFFmpeg(ctx context.Context, binary string) Result {
	status := deps.CheckFFmpeg(ctx, binary)
	if !status.Available {
		return Result{Name: status.Name, Optional: true, Detail: status.Detail + "; HEIC input disabled"}
	}
	return Result{Name: status.Name, Passed: true, Optional: true, Detail: fmt.Sprintf("%s (version %s)", status.Command, status.Version)}
}
