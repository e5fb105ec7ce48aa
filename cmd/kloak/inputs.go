package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// mediaExtensions are the suffixes collected when a directory is passed to
// strip. Explicit file arguments are always attempted regardless of suffix
// since classification ignores names.
var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".mp4", ".mov", ".m4v"}

// collectInputs expands directory arguments into the media files they hold.
func collectInputs(args []string, recursive bool) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(path string) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("inspect input %q: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if isMediaName(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return files, nil
}

func isMediaName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return slices.Contains(mediaExtensions, strings.ToLower(filepath.Ext(name)))
}
