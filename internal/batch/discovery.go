package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// imageExtensions are picked up when scanning directories without include patterns.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// DiscoverOptions controls directory scanning.
type DiscoverOptions struct {
	Recursive       bool
	IncludePatterns []string // glob patterns matched against base names
	ExcludePatterns []string
}

// Discover expands args into image files. Files named explicitly are kept
// unless excluded; directories contribute files with an image extension, or
// those matching IncludePatterns when set.
func Discover(args []string, opts DiscoverOptions) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			if !matchesAnyPattern(arg, opts.ExcludePatterns) {
				files = append(files, arg)
			}
			continue
		}

		found, err := discoverInDirectory(arg, opts)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	return files, nil
}

func discoverInDirectory(dir string, opts DiscoverOptions) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIncludeFile(path, opts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return files, nil
}

func shouldIncludeFile(path string, opts DiscoverOptions) bool {
	if matchesAnyPattern(path, opts.ExcludePatterns) {
		return false
	}
	if len(opts.IncludePatterns) == 0 {
		return IsImageFile(path)
	}
	return matchesAnyPattern(path, opts.IncludePatterns)
}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
