package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, NUL bytes and parent-directory segments
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("file path contains NUL byte")
	}
	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	return nil
}

// ValidateFileName accepts a single path element usable as a file name
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid file name: %s", name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("file name contains path separators: %s", name)
	}
	return nil
}

// ResolveWithin joins name onto baseDir and verifies the result stays inside it
func ResolveWithin(baseDir, name string) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	cleanBase := filepath.Clean(baseDir)
	full := filepath.Join(cleanBase, name)
	rel, err := filepath.Rel(cleanBase, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", name)
	}
	return full, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
