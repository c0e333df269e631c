package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and directory traversal attempts.
// Generated artifacts and custom card backgrounds are referenced relative
// to the media cache dir, so absolute paths are refused too.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	if filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// ResolveWithin joins path onto baseDir and verifies the result cannot
// escape baseDir. Returns the resolved absolute path.
func ResolveWithin(baseDir, path string) (string, error) {
	if err := ValidateFilePath(path); err != nil {
		return "", err
	}

	fullPath := filepath.Clean(filepath.Join(baseDir, path))
	cleanBase := filepath.Clean(baseDir)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) && fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}

	return fullPath, nil
}
