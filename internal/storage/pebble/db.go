package pebblestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/chinuno-usami/server-tan/internal/errs"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed write.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce
	// WAL syncs for writes within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application. Pebble may
	// still sync based on its own policies.
	FsyncModeNever
)

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
}

// DB wraps a Pebble database instance with an fsync policy. Every mutation
// commits its own single-write batch before returning; there is no batching
// across calls. Readers iterate over a consistent view and do not observe
// in-flight writers.
type DB struct {
	inner     *pebble.DB
	writeSync bool
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := &pebble.Options{}
	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync on each commit; WALMinSyncInterval left at default (0).
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrStorage, opts.DataDir, err)
	}

	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Keyspace returns an independent named namespace over the shared database.
func (db *DB) Keyspace(name string) *Keyspace {
	return &Keyspace{db: db, prefix: name + "/"}
}

func (db *DB) writeOpts() *pebble.WriteOptions {
	if db.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// set commits a single-key write with the configured fsync policy.
func (db *DB) set(key, value []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return fmt.Errorf("%w: set %q: %v", errs.ErrStorage, key, err)
	}
	if err := b.Commit(db.writeOpts()); err != nil {
		return fmt.Errorf("%w: commit %q: %v", errs.ErrStorage, key, err)
	}
	return nil
}

// delete commits a single-key delete. Deleting an absent key is a no-op.
func (db *DB) delete(key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return fmt.Errorf("%w: delete %q: %v", errs.ErrStorage, key, err)
	}
	if err := b.Commit(db.writeOpts()); err != nil {
		return fmt.Errorf("%w: commit delete %q: %v", errs.ErrStorage, key, err)
	}
	return nil
}

// get copies the value for the given key.
func (db *DB) get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %q: %v", errs.ErrStorage, key, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}
