package contentsvc

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
)

// dateLayout is the bucket key format of the secondary index. Lexicographic
// order of bucket keys equals calendar order, which the expiry sweep relies
// on.
const dateLayout = "20060102"

// Content is an immutable message body with a retention-governed lifetime.
type Content struct {
	ID   string `json:"id"`
	Body string `json:"body"`
	Date string `json:"date"`
}

// Service is the content store. Bodies live under their content id; a
// second namespace maps each calendar date to the ids created that day so
// the sweep can expire a whole day without scanning every record.
type Service struct {
	rt            *runtime.Runtime
	retentionDays int
	logger        *zap.Logger

	// mu guards lastSweep and the index read-modify-write in Add; without it
	// concurrent publishes on the same day drop each other's bucket entries
	// and the unindexed bodies escape the sweep forever.
	mu        sync.Mutex
	lastSweep time.Time // calendar date of the last sweep, zero before the first

	now func() time.Time // test hook
}

// New creates the content store. retentionDays of 0 disables expiry.
func New(rt *runtime.Runtime, retentionDays int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rt: rt, retentionDays: retentionDays, logger: logger, now: time.Now}
}

// Add stores a new body and indexes it under today's date bucket, returning
// the generated content id. The record and index writes are sequential, not
// atomic: a crash in between leaves the body retrievable but invisible to
// the sweep.
func (s *Service) Add(body string) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	date := s.now().Format(dateLayout)

	rec, err := json.Marshal(Content{ID: id, Body: body, Date: date})
	if err != nil {
		return "", fmt.Errorf("%w: encode content: %v", errs.ErrStorage, err)
	}
	if err := s.rt.Contents().Put(id, rec); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	if b, err := s.rt.ContentIndex().Get(date); err == nil {
		if err := json.Unmarshal(b, &ids); err != nil {
			return "", fmt.Errorf("%w: decode index %s: %v", errs.ErrStorage, date, err)
		}
	} else if err != errs.ErrNotFound {
		return "", err
	}
	ids = append(ids, id)
	idx, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("%w: encode index %s: %v", errs.ErrStorage, date, err)
	}
	if err := s.rt.ContentIndex().Put(date, idx); err != nil {
		return "", err
	}
	s.logger.Debug("content stored", zap.String("content", id), zap.String("date", date))
	return id, nil
}

// Get returns the body stored under id.
func (s *Service) Get(id string) (string, error) {
	b, err := s.rt.Contents().Get(id)
	if err != nil {
		if err == errs.ErrNotFound {
			return "", fmt.Errorf("content %s: %w", id, errs.ErrNotFound)
		}
		return "", err
	}
	var c Content
	if err := json.Unmarshal(b, &c); err != nil {
		return "", fmt.Errorf("%w: decode content %s: %v", errs.ErrStorage, id, err)
	}
	return c.Body, nil
}

// CleanExpired deletes every content whose date bucket is strictly older
// than the retention window. It runs at most once per calendar day; callers
// invoke it opportunistically before publishing rather than on a timer.
func (s *Service) CleanExpired() error {
	if s.retentionDays == 0 {
		return nil
	}
	today := s.today()

	s.mu.Lock()
	if !s.lastSweep.Before(today) {
		s.mu.Unlock()
		return nil
	}
	s.lastSweep = today
	s.mu.Unlock()

	cutoff := today.AddDate(0, 0, -s.retentionDays).Format(dateLayout)

	// Collect first, delete after: the scan iterator should not race its own
	// deletes.
	type bucket struct {
		date string
		ids  []string
	}
	var expired []bucket
	err := s.rt.ContentIndex().Scan(func(date string, value []byte) error {
		if date >= cutoff {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(value, &ids); err != nil {
			return fmt.Errorf("%w: decode index %s: %v", errs.ErrStorage, date, err)
		}
		expired = append(expired, bucket{date: date, ids: ids})
		return nil
	})
	if err != nil {
		return err
	}

	removed := 0
	for _, b := range expired {
		for _, id := range b.ids {
			if err := s.rt.Contents().Delete(id); err != nil {
				return err
			}
			removed++
		}
		if err := s.rt.ContentIndex().Delete(b.date); err != nil {
			return err
		}
	}
	if removed > 0 {
		s.logger.Info("expired content removed",
			zap.Int("contents", removed),
			zap.Int("buckets", len(expired)),
			zap.String("cutoff", cutoff))
	}
	return nil
}

// today truncates the clock to the local calendar date.
func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
