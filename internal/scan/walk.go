// Package scan finds export files under a root directory.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Walk returns every .txt file under root in lexical order.
// Directories whose base name is in ignore are skipped (case-insensitive);
// symlinked directories are not followed.
func Walk(ctx context.Context, root string, ignore []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		if name = strings.TrimSpace(name); name != "" {
			skip[strings.ToLower(name)] = struct{}{}
		}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped, the root is not
			if path != root && d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if _, ok := skip[strings.ToLower(d.Name())]; ok && path != root {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() && IsExport(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// IsExport reports whether path has a .txt extension, in any case
func IsExport(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}
