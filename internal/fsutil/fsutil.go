// Package fsutil holds the checks shared by the JSON file loaders.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckFile cleans path and verifies it has extension ext and is at most
// maxSize bytes. kind names the file in error messages ("config file").
func CheckFile(path, kind, ext string, maxSize int64) (string, error) {
	cleanPath := filepath.Clean(path)
	if got := filepath.Ext(cleanPath); got != ext {
		return "", fmt.Errorf("%s must have %s extension, got %q", kind, ext, got)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", kind, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s %s is a directory", kind, cleanPath)
	}
	if info.Size() > maxSize {
		return "", fmt.Errorf("%s too large: %d bytes (max %d)", kind, info.Size(), maxSize)
	}
	return cleanPath, nil
}
