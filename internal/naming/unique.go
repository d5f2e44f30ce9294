package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UniquePath returns a path in dir that does not exist yet, derived from base.
// "photo.jpg" becomes "photo-1.jpg", "photo-2.jpg", ... until a free name is found.
// Existence is checked on disk for every candidate; callers must not allocate
// concurrently in the same directory.
func UniquePath(dir, base string) (string, error) {
	if base == "" {
		base = FallbackName
	}

	stem, ext := splitExt(base)

	for n := 0; ; n++ {
		name := stem + ext
		if n > 0 {
			name = stem + "-" + strconv.Itoa(n) + ext
		}

		candidate := filepath.Join(dir, name)
		exists, err := pathExists(candidate)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}
}

// splitExt splits "photo.jpg" into "photo" and ".jpg". Dotfiles keep their name as stem.
func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		return base, ""
	}
	return stem, ext
}

func pathExists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
