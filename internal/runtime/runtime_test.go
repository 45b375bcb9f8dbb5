package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
)

func TestOpenAndKeyspaces(t *testing.T) {
	rt, err := Open(Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	if err := rt.Users().Put("u1", []byte("{}")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := rt.Users().Get("u1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	// same key in another namespace must miss
	if _, err := rt.Channels().Get("u1"); err == nil {
		t.Fatalf("expected miss in channel keyspace")
	}
}
