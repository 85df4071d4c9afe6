package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileStore keeps each bundle in its own directory under root.
//
// Files are staged in a hidden temporary directory and renamed into place,
// so a bundle directory only ever appears complete.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore, creating root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string {
	return s.root
}

// Create implements Store.
func (s *FileStore) Create(_ context.Context, id string, files map[string][]byte) (err error) {
	if err := validateFiles(id, files); err != nil {
		return err
	}

	final := filepath.Join(s.root, id)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}

	tmp, err := os.MkdirTemp(s.root, ".tmp-"+id+"-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	for name, data := range files {
		if err = os.WriteFile(filepath.Join(tmp, name), data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if err = os.Chmod(tmp, 0750); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmp, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			err = fmt.Errorf("%w: %s", ErrExists, id)
			return err
		}
		return fmt.Errorf("failed to move bundle into place: %w", err)
	}
	return nil
}

// Open implements Store.
func (s *FileStore) Open(_ context.Context, id, name string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, id, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", id, name, err)
	}
	return data, nil
}

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(s.root, id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context, id string) ([]string, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, id))
}
