// Package discovery finds the images under an input folder.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tiff": {},
	".webp": {},
}

// IsImage reports whether path has a supported image extension, ignoring case.
func IsImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Options control a discovery walk.
type Options struct {
	// Exclude is skipped entirely, typically an output folder nested inside
	// the input folder.
	Exclude string
}

// Images walks root recursively and returns the absolute paths of every
// image sorted lexicographically. Unreadable subdirectories are skipped; an
// unreadable root is an error.
func Images(root string, opts Options) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve input root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat input root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input root %s is not a directory", absRoot)
	}

	exclude := ""
	if opts.Exclude != "" {
		if abs, err := filepath.Abs(opts.Exclude); err == nil {
			exclude = abs
		}
	}

	var paths []string
	walkErr := filepath.WalkDir(absRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if exclude != "" && path == exclude && path != absRoot {
				return fs.SkipDir
			}
			return nil
		}
		if entry.Type().IsRegular() && IsImage(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk input root: %w", walkErr)
	}

	sort.Strings(paths)
	return paths, nil
}
