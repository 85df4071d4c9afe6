// Package artifact stores rendered reports under opaque report IDs.
//
// A report bundle is the set of files written for one report. Bundles are
// created atomically: until a bundle is complete, its ID is not
// discoverable through Exists, Open or List.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown IDs, unfinished bundles and
	// missing files.
	ErrNotFound = errors.New("artifact not found")

	// ErrExists is returned by Create when the ID is already taken.
	ErrExists = errors.New("artifact already exists")

	// ErrIDExhausted is returned when no unused report ID could be generated.
	ErrIDExhausted = errors.New("could not generate an unused report id")

	// ErrInvalidID is returned for IDs that are not lowercase hex.
	ErrInvalidID = errors.New("invalid report id")

	// ErrInvalidName is returned for file names that are not plain names.
	ErrInvalidName = errors.New("invalid artifact file name")
)

// Store persists report bundles.
type Store interface {
	// Create writes all files under id at once. It fails with ErrExists
	// when id is taken and leaves nothing behind on failure.
	Create(ctx context.Context, id string, files map[string][]byte) error

	// Open returns the content of one file of a complete bundle.
	Open(ctx context.Context, id, name string) ([]byte, error)

	// Exists reports whether a complete bundle is stored under id.
	Exists(ctx context.Context, id string) (bool, error)

	// List returns the file names of a bundle in lexical order.
	List(ctx context.Context, id string) ([]string, error)

	// Delete removes a bundle. Deleting a missing bundle is not an error.
	Delete(ctx context.Context, id string) error
}

// maxIDLength bounds IDs accepted from callers such as HTTP paths.
const maxIDLength = 64

// ValidateID checks that id is a non-empty lowercase hex string.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

// ValidateName checks that name is a plain file name.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name == manifestName {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateFiles(id string, files map[string][]byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("artifact bundle has no files")
	}
	for name := range files {
		if err := ValidateName(name); err != nil {
			return err
		}
	}
	return nil
}
