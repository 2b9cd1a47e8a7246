package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"wagateway/internal/security"
	pkgconstants "wagateway/pkg/constants"
)

var ErrNotFound = errors.New("media not found")

// Storage keeps one file per message id in a flat directory.
type Storage struct {
	dir string
}

func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		dir = pkgconstants.DefaultMediaDir
	}
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, fmt.Errorf("invalid media directory: %w", err)
	}
	return &Storage{dir: dir}, nil
}

func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) Save(messageID string, data []byte) error {
	path, err := security.ResolveWithin(s.dir, messageID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, pkgconstants.DefaultDirectoryPermissions); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}
	if err := os.WriteFile(path, data, pkgconstants.DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write media file: %w", err)
	}
	return nil
}

// Open returns the stored content for messageID or ErrNotFound.
func (s *Storage) Open(messageID string) (*os.File, error) {
	path, err := security.ResolveWithin(s.dir, messageID)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}
