package file

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Enumerate walks root recursively and returns the regular files whose base
// name matches any of patterns (filepath.Match syntax). The result is
// sorted and free of duplicates even when several patterns match one file.
//
// An error is returned only when root itself cannot be read; unreadable
// subdirectories are skipped.
func Enumerate(root string, patterns []string) ([]string, error) {
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	seen := make(map[string]struct{})
	var out []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !matchAny(patterns, d.Name()) {
			return nil
		}
		clean := filepath.Clean(p)
		if _, dup := seen[clean]; dup {
			return nil
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// Dedupe returns paths with duplicates removed, keeping first-seen order.
func Dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		clean := filepath.Clean(p)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

func matchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
