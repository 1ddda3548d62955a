package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins path elements onto base and verifies the result stays
// strictly inside base. Unlike filepath.Join, a name such as ".." or one that
// contains a separator cannot escape the directory.
//
// Example usage:
//
//	path, err := SecureJoin(cacheDir, token+".tbl")
//	if err != nil {
//		return fmt.Errorf("invalid cache path: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory %s", base)
	}

	return fullPath, nil
}

// EnsureWithinBase reports an error when path is not located inside base.
func EnsureWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		cleanPath = filepath.Join(cleanBase, cleanPath)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside base directory %s", path, base)
	}
	return nil
}
