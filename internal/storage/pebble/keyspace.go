package pebblestore

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/chinuno-usami/server-tan/internal/errs"
)

// Keyspace scopes get/put/delete/scan to a single namespace of the shared
// database. Each directory owns exactly one keyspace; nothing enforces this,
// but no record is ever shared across namespaces.
type Keyspace struct {
	db     *DB
	prefix string
}

func (ks *Keyspace) key(k string) []byte {
	return append([]byte(ks.prefix), k...)
}

// Put durably stores or replaces a record, committing before it returns.
func (ks *Keyspace) Put(key string, value []byte) error {
	return ks.db.set(ks.key(key), value)
}

// Get returns the record for key. A miss returns errs.ErrNotFound; any other
// failure wraps errs.ErrStorage.
func (ks *Keyspace) Get(key string) ([]byte, error) {
	return ks.db.get(ks.key(key))
}

// Delete removes the record for key. Absent keys are a no-op.
func (ks *Keyspace) Delete(key string) error {
	return ks.db.delete(ks.key(key))
}

// Scan calls fn for every record in the namespace in key order. The iterator
// reads from a consistent view, so concurrent writers do not disturb an
// in-flight scan. Returning an error from fn stops the scan and surfaces it.
func (ks *Keyspace) Scan(fn func(key string, value []byte) error) error {
	lower := []byte(ks.prefix)
	upper := upperBound(lower)
	it, err := ks.db.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("%w: iter %s: %v", errs.ErrStorage, ks.prefix, err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		key := string(it.Key())[len(ks.prefix):]
		val := append([]byte(nil), it.Value()...)
		if err := fn(key, val); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("%w: scan %s: %v", errs.ErrStorage, ks.prefix, err)
	}
	return nil
}

// upperBound returns the smallest key greater than every key with the given
// prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
