package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Runtime wires storage and config for a single-node instance. The directory
// services each take their keyspace from here; every keyspace is an
// independent namespace of the same database.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{db: db, config: opts.Config}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	return nil
}

// Users returns the user directory keyspace.
func (r *Runtime) Users() *pebblestore.Keyspace { return r.db.Keyspace("user") }

// Channels returns the channel directory keyspace.
func (r *Runtime) Channels() *pebblestore.Keyspace { return r.db.Keyspace("chan") }

// Contents returns the content body keyspace.
func (r *Runtime) Contents() *pebblestore.Keyspace { return r.db.Keyspace("content") }

// ContentIndex returns the date-bucketed content index keyspace.
func (r *Runtime) ContentIndex() *pebblestore.Keyspace { return r.db.Keyspace("cidx") }

// PlatformState returns the keyspace holding push-platform state such as the
// cached access token.
func (r *Runtime) PlatformState() *pebblestore.Keyspace { return r.db.Keyspace("wx") }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
