package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/user/cartograph/packages/manifest"
)

// ManifestFile is the manifest's name inside a project directory.
const ManifestFile = "manifest.json"

const filesDir = "files"

// Dir stores each project as a directory:
//
//	<root>/<id>/manifest.json
//	<root>/<id>/files/<name>
//
// A save is written to a sibling temporary directory and swapped in with renames.
type Dir struct {
	root string
}

// NewDir returns a store rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the store directory.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) projectDir(id string) string {
	return filepath.Join(d.root, id)
}

func (d *Dir) Load(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckID(id); err != nil {
		return nil, err
	}
	return ReadProjectDir(d.projectDir(id))
}

// ReadProjectDir reads a project directory laid out as Dir writes it.
func ReadProjectDir(dir string) (*Record, error) {
	mpath := filepath.Join(dir, ManifestFile)
	info, err := os.Stat(mpath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(mpath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	rec := &Record{Manifest: data, UpdatedAt: info.ModTime().UTC()}
	fdir := filepath.Join(dir, filesDir)
	err = filepath.WalkDir(fdir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(fdir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if rec.Files == nil {
			rec.Files = make(manifest.Files)
		}
		rec.Files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read files: %w", err)
	}
	return rec, nil
}

// WriteProjectDir writes rec into dir, which must not exist yet.
func WriteProjectDir(dir string, rec *Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), rec.Manifest, 0o640); err != nil {
		return err
	}
	for _, name := range rec.Files.Names() {
		p := filepath.Join(dir, filesDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(p, rec.Files[name], 0o640); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) Save(ctx context.Context, id string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckID(id); err != nil {
		return err
	}
	suffix := uuid.NewString()
	tmp := filepath.Join(d.root, ".tmp-"+id+"-"+suffix)
	if err := WriteProjectDir(tmp, rec); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("write project %s: %w", id, err)
	}

	target := d.projectDir(id)
	old := filepath.Join(d.root, ".old-"+id+"-"+suffix)
	hadOld := true
	if err := os.Rename(target, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			os.RemoveAll(tmp)
			return fmt.Errorf("replace project %s: %w", id, err)
		}
		hadOld = false
	}
	if err := os.Rename(tmp, target); err != nil {
		if hadOld {
			os.Rename(old, target)
		}
		os.RemoveAll(tmp)
		return fmt.Errorf("replace project %s: %w", id, err)
	}
	if hadOld {
		os.RemoveAll(old)
	}
	return nil
}

func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(d.root, e.Name(), ManifestFile)); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *Dir) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckID(id); err != nil {
		return err
	}
	target := d.projectDir(id)
	if _, err := os.Stat(filepath.Join(target, ManifestFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return os.RemoveAll(target)
}

func (d *Dir) Close() error { return nil }
