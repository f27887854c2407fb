package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/user/cartograph/packages/manifest"
)

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own log output. If nil, it is discarded.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Badger stores projects in a BadgerDB key space:
//
//	p/<id>/manifest   manifest bytes
//	p/<id>/updated    save time, unix nanoseconds, big endian
//	p/<id>/f/<name>   auxiliary file
//
// Each save replaces every key of the project in one transaction.
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens or creates a badger store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func projectPrefix(id string) []byte { return []byte("p/" + id + "/") }
func manifestKey(id string) []byte   { return []byte("p/" + id + "/manifest") }
func updatedKey(id string) []byte    { return []byte("p/" + id + "/updated") }
func fileKey(id, name string) []byte { return []byte("p/" + id + "/f/" + name) }

func (b *Badger) Load(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckID(id); err != nil {
		return nil, err
	}
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if rec.Manifest, err = item.ValueCopy(nil); err != nil {
			return err
		}
		if item, err := txn.Get(updatedKey(id)); err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(raw) == 8 {
				rec.UpdatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(raw))).UTC()
			}
		}

		prefix := fileKey(id, "")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if rec.Files == nil {
				rec.Files = make(manifest.Files)
			}
			rec.Files[strings.TrimPrefix(string(item.Key()), string(prefix))] = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *Badger) Save(ctx context.Context, id string, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckID(id); err != nil {
		return err
	}
	if err := checkRecord(rec); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, projectPrefix(id)); err != nil {
			return err
		}
		if err := txn.Set(manifestKey(id), append([]byte(nil), rec.Manifest...)); err != nil {
			return err
		}
		stamp := make([]byte, 8)
		binary.BigEndian.PutUint64(stamp, uint64(b.now().UnixNano()))
		if err := txn.Set(updatedKey(id), stamp); err != nil {
			return err
		}
		for _, name := range rec.Files.Names() {
			if err := txn.Set(fileKey(id, name), append([]byte(nil), rec.Files[name]...)); err != nil {
				return fmt.Errorf("save file %s: %w", name, err)
			}
		}
		return nil
	})
}

func (b *Badger) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("p/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), "p/")
			id, tail, ok := strings.Cut(rest, "/")
			if ok && tail == "manifest" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

func (b *Badger) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckID(id); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(manifestKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return deletePrefix(txn, projectPrefix(id))
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
