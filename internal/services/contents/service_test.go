package contentsvc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
)

func newServiceForTest(t *testing.T, retentionDays int) *Service {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, retentionDays, nil)
}

func TestRoundTrip(t *testing.T) {
	svc := newServiceForTest(t, 7)
	bodies := []string{
		"hello world",
		"",
		"héllo wörld — 通知正文 🎉",
		"line1\nline2\ttab",
	}
	for _, body := range bodies {
		id, err := svc.Add(body)
		if err != nil {
			t.Fatalf("add %q: %v", body, err)
		}
		got, err := svc.Get(id)
		if err != nil {
			t.Fatalf("get %q: %v", body, err)
		}
		if got != body {
			t.Fatalf("round trip: got %q want %q", got, body)
		}
	}
}

func TestGetMissing(t *testing.T) {
	svc := newServiceForTest(t, 7)
	if _, err := svc.Get("nope"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// setClock pins the service clock to a fixed day.
func setClock(svc *Service, day time.Time) {
	svc.now = func() time.Time { return day }
}

func TestExpiryBoundary(t *testing.T) {
	svc := newServiceForTest(t, 3)
	day := func(offset int) time.Time {
		return time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local).AddDate(0, 0, offset)
	}

	setClock(svc, day(-4))
	oldID, err := svc.Add("too old")
	if err != nil {
		t.Fatalf("add old: %v", err)
	}
	setClock(svc, day(-2))
	freshID, err := svc.Add("still fresh")
	if err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	setClock(svc, day(0))
	if err := svc.CleanExpired(); err != nil {
		t.Fatalf("clean: %v", err)
	}

	if _, err := svc.Get(oldID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("content from day-4 should be swept, got %v", err)
	}
	if body, err := svc.Get(freshID); err != nil || body != "still fresh" {
		t.Fatalf("content from day-2 should survive: %q, %v", body, err)
	}
	// the swept bucket itself is gone
	if _, err := svc.rt.ContentIndex().Get(day(-4).Format(dateLayout)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("index bucket should be deleted, got %v", err)
	}
}

func TestSweepRunsOncePerDay(t *testing.T) {
	svc := newServiceForTest(t, 3)
	day := time.Date(2024, 3, 10, 8, 0, 0, 0, time.Local)

	setClock(svc, day.AddDate(0, 0, -5))
	firstID, _ := svc.Add("first")

	setClock(svc, day)
	if err := svc.CleanExpired(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := svc.Get(firstID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("first sweep should delete, got %v", err)
	}

	// Backdate another record, then sweep again the same day: nothing runs.
	setClock(svc, day.AddDate(0, 0, -5))
	secondID, _ := svc.Add("second")
	setClock(svc, day.Add(2 * time.Hour))
	if err := svc.CleanExpired(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := svc.Get(secondID); err != nil {
		t.Fatalf("second sweep must not run today: %v", err)
	}

	// next day it runs again
	setClock(svc, day.AddDate(0, 0, 1))
	if err := svc.CleanExpired(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := svc.Get(secondID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("next-day sweep should delete, got %v", err)
	}
}

func TestRetentionZeroDisablesSweep(t *testing.T) {
	svc := newServiceForTest(t, 0)
	setClock(svc, time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local))
	id, _ := svc.Add("kept forever")
	setClock(svc, time.Date(2024, 3, 10, 0, 0, 0, 0, time.Local))
	if err := svc.CleanExpired(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := svc.Get(id); err != nil {
		t.Fatalf("content swept despite disabled retention: %v", err)
	}
}

func TestConcurrentAddsAllIndexed(t *testing.T) {
	svc := newServiceForTest(t, 3)
	setClock(svc, time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local))

	const n = 100
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = make(map[string]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.Add("body")
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			mu.Lock()
			got[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	raw, err := svc.rt.ContentIndex().Get("20240310")
	if err != nil {
		t.Fatalf("index get: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != n {
		t.Fatalf("bucket holds %d ids, want %d", len(ids), n)
	}
	for _, id := range ids {
		if !got[id] {
			t.Fatalf("bucket holds unknown id %s", id)
		}
	}
}

func TestIndexBucketsShareDay(t *testing.T) {
	svc := newServiceForTest(t, 3)
	setClock(svc, time.Date(2024, 3, 10, 9, 0, 0, 0, time.Local))
	a, _ := svc.Add("a")
	b, _ := svc.Add("b")
	var ids []string
	raw, err := svc.rt.ContentIndex().Get("20240310")
	if err != nil {
		t.Fatalf("index get: %v", err)
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Fatalf("bucket = %v, want [%s %s]", ids, a, b)
	}
}
