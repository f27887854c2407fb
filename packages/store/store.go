// Package store persists project manifests and their auxiliary files.
//
// A store knows nothing about manifest versions: it keeps bytes exactly as given and
// returns them exactly as saved. Migration happens above it, at load time.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/user/cartograph/packages/manifest"
)

var (
	// ErrNotFound is returned when no project has the requested id.
	ErrNotFound = errors.New("project not found")
	// ErrInvalidID is returned for ids that cannot be used as a key or directory name.
	ErrInvalidID = errors.New("invalid project id")
)

// Record is one stored project.
type Record struct {
	// Manifest is the manifest document, byte for byte.
	Manifest []byte
	// Files are the auxiliary files, keyed by relative slash-separated name.
	Files manifest.Files
	// UpdatedAt is set by the store on Save.
	UpdatedAt time.Time
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Manifest:  append([]byte(nil), r.Manifest...),
		Files:     r.Files.Clone(),
		UpdatedAt: r.UpdatedAt,
	}
}

// Store is the persistence boundary. Saves replace the whole project atomically.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, id string, rec *Record) error
	// List returns project ids in ascending order.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// CheckID rejects ids that are empty, too long, or not safe as a path segment.
func CheckID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func checkRecord(rec *Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	for name := range rec.Files {
		if err := manifest.CheckName(name); err != nil {
			return err
		}
	}
	return nil
}
