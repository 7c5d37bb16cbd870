// Package file finds local source files: by walking a directory tree or by
// reading an explicit file list.
package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReadList reads a file list, one path per line. Blank lines and lines
// starting with '#' are skipped. Relative entries are resolved against the
// directory holding the list, so lists can travel with their archive.
// Duplicates are dropped; order is otherwise preserved.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return Dedupe(out), nil
}
