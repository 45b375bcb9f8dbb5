package channelsvc

import (
	"context"
	"errors"
	"sync"
	"testing"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	usersvc "github.com/chinuno-usami/server-tan/internal/services/users"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
)

type stubResolver struct{}

func (stubResolver) ResolveDisplayName(_ context.Context, id string) (string, error) {
	return "user-" + id, nil
}

func newServiceForTest(t *testing.T, cfg cfgpkg.Config) (*Service, *usersvc.Service) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	users := usersvc.New(rt, stubResolver{}, nil)
	return New(rt, users, nil), users
}

func addUser(t *testing.T, users *usersvc.Service, id string) {
	t.Helper()
	if err := users.Add(context.Background(), id); err != nil {
		t.Fatalf("add user %s: %v", id, err)
	}
}

func TestCreateLinksOwner(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")

	id, err := svc.Create(context.Background(), "News", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ch, err := svc.GetByID(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ch.Name != "News" || ch.Owner != "alice" || len(ch.Subscribers) != 0 {
		t.Fatalf("channel = %+v", ch)
	}
	if ch.SendKey == "" || ch.SendKey == ch.ID {
		t.Fatalf("send key %q must be set and distinct from id %q", ch.SendKey, ch.ID)
	}
	u, _ := users.Get("alice")
	if len(u.Owns) != 1 || u.Owns[0] != id {
		t.Fatalf("owner list = %v, want [%s]", u.Owns, id)
	}
}

func TestCreateUnknownOwnerLeavesRecord(t *testing.T) {
	svc, _ := newServiceForTest(t, cfgpkg.Default())
	// Owner was never registered: the ownership link fails after the channel
	// write landed. The error surfaces and the orphan record remains.
	if _, err := svc.Create(context.Background(), "News", "ghost"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	chans, err := svc.GetByOwner("ghost")
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if len(chans) != 1 {
		t.Fatalf("expected the orphaned channel record to remain, got %d", len(chans))
	}
}

func TestSendKeyUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		k := newToken()
		if len(k) != 32 {
			t.Fatalf("token %q: want 32 hex chars", k)
		}
		if seen[k] {
			t.Fatalf("duplicate token after %d draws: %s", i, k)
		}
		seen[k] = true
	}
}

func TestSubscribeMirrorsBothSides(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	addUser(t, users, "bob")
	id, err := svc.Create(context.Background(), "News", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Subscribe(context.Background(), id, "bob"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch, _ := svc.GetByID(id)
	u, _ := users.Get("bob")
	if len(ch.Subscribers) != 1 || ch.Subscribers[0] != "bob" {
		t.Fatalf("channel side = %v", ch.Subscribers)
	}
	if len(u.Subscribes) != 1 || u.Subscribes[0] != id {
		t.Fatalf("user side = %v", u.Subscribes)
	}

	// duplicate subscription is rejected by the user side and must not
	// touch the channel side
	if err := svc.Subscribe(context.Background(), id, "bob"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	ch, _ = svc.GetByID(id)
	if len(ch.Subscribers) != 1 {
		t.Fatalf("channel side grew on rejected subscribe: %v", ch.Subscribers)
	}

	if err := svc.Unsubscribe(context.Background(), id, "bob"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	ch, _ = svc.GetByID(id)
	u, _ = users.Get("bob")
	if len(ch.Subscribers) != 0 || len(u.Subscribes) != 0 {
		t.Fatalf("teardown incomplete: chan=%v user=%v", ch.Subscribers, u.Subscribes)
	}

	// unsubscribing again is a silent no-op on both sides
	if err := svc.Unsubscribe(context.Background(), id, "bob"); err != nil {
		t.Fatalf("idempotent unsubscribe: %v", err)
	}
}

func TestSubscribeMissingChannel(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "bob")
	if err := svc.Subscribe(context.Background(), "nope", "bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByOwner(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	addUser(t, users, "bob")
	a1, _ := svc.Create(context.Background(), "A1", "alice")
	a2, _ := svc.Create(context.Background(), "A2", "alice")
	if _, err := svc.Create(context.Background(), "B1", "bob"); err != nil {
		t.Fatalf("create: %v", err)
	}

	chans, err := svc.GetByOwner("alice")
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("got %d channels, want 2", len(chans))
	}
	ids := map[string]bool{chans[0].ID: true, chans[1].ID: true}
	if !ids[a1] || !ids[a2] {
		t.Fatalf("ids = %v, want {%s,%s}", ids, a1, a2)
	}

	none, err := svc.GetByOwner("carol")
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %v", none)
	}
}

func TestGetByPublishKey(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	id, _ := svc.Create(context.Background(), "News", "alice")
	ch, _ := svc.GetByID(id)

	got, err := svc.GetByPublishKey(ch.SendKey)
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != id {
		t.Fatalf("got channel %s, want %s", got.ID, id)
	}
	if _, err := svc.GetByPublishKey("bogus"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscribersResolvesUsers(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	addUser(t, users, "bob")
	addUser(t, users, "carol")
	id, _ := svc.Create(context.Background(), "News", "alice")
	for _, u := range []string{"bob", "carol"} {
		if err := svc.Subscribe(context.Background(), id, u); err != nil {
			t.Fatalf("subscribe %s: %v", u, err)
		}
	}
	subs, err := svc.Subscribers(id)
	if err != nil {
		t.Fatalf("subscribers: %v", err)
	}
	if len(subs) != 2 || subs[0].ID != "bob" || subs[1].ID != "carol" {
		t.Fatalf("subs = %+v", subs)
	}
}

func TestDeleteChannelScenario(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	addUser(t, users, "bob")
	id, err := svc.Create(context.Background(), "News", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Subscribe(context.Background(), id, "bob"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subs, err := svc.Subscribers(id)
	if err != nil || len(subs) != 1 || subs[0].ID != "bob" {
		t.Fatalf("subscribers = %+v, err = %v", subs, err)
	}

	if err := svc.Delete(context.Background(), id, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetByID(id); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	bob, _ := users.Get("bob")
	for _, c := range bob.Subscribes {
		if c == id {
			t.Fatalf("bob still subscribed to deleted channel")
		}
	}
	alice, _ := users.Get("alice")
	for _, c := range alice.Owns {
		if c == id {
			t.Fatalf("alice still owns deleted channel")
		}
	}
}

func TestDeleteSerializesWithSubscribe(t *testing.T) {
	svc, users := newServiceForTest(t, cfgpkg.Default())
	addUser(t, users, "alice")
	addUser(t, users, "bob")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id, err := svc.Create(ctx, "News", "alice")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// either lands before the delete and is torn down with the
			// channel, or loses the race and misses
			_ = svc.Subscribe(ctx, id, "bob")
		}()
		go func() {
			defer wg.Done()
			if err := svc.Delete(ctx, id, "alice"); err != nil {
				t.Errorf("delete: %v", err)
			}
		}()
		wg.Wait()

		if _, err := svc.GetByID(id); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("channel survived delete: %v", err)
		}
		bob, _ := users.Get("bob")
		for _, c := range bob.Subscribes {
			if c == id {
				t.Fatalf("bob still subscribed to deleted channel %s", id)
			}
		}
	}
}

func TestDeleteOwnerEnforcement(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.EnforceOwnerOnDelete = true
	svc, users := newServiceForTest(t, cfg)
	addUser(t, users, "alice")
	addUser(t, users, "mallory")
	id, _ := svc.Create(context.Background(), "News", "alice")

	if err := svc.Delete(context.Background(), id, "mallory"); !errors.Is(err, errs.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.GetByID(id); err != nil {
		t.Fatalf("channel should survive rejected delete: %v", err)
	}
	if err := svc.Delete(context.Background(), id, "alice"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestDeleteMissingChannel(t *testing.T) {
	svc, _ := newServiceForTest(t, cfgpkg.Default())
	if err := svc.Delete(context.Background(), "nope", "alice"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
