// Package pebblestore provides a thin wrapper around Pebble with an fsync
// policy and prefix-scoped keyspaces. Each directory service owns one
// keyspace; writes commit a single-writer batch per call, reads and scans
// may run concurrently with writers.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	users := db.Keyspace("user")
//	_ = users.Put("alice", []byte(`{"id":"alice"}`))
//	v, _ := users.Get("alice")
//	_ = users.Scan(func(k string, v []byte) error { return nil })
package pebblestore
