package channelsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	usersvc "github.com/chinuno-usami/server-tan/internal/services/users"
	"github.com/chinuno-usami/server-tan/pkg/kmutex"
)

// Channel is the directory record for one broadcast topic. SendKey is the
// secret publish token; possession of it is sufficient to publish. It is an
// independent random draw, never derived from the channel id.
type Channel struct {
	ID          string   `json:"id"`
	SendKey     string   `json:"sendkey"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Subscribers []string `json:"subscribers"`
}

// Service is the channel directory. It keeps both sides of a subscription
// consistent by updating the user directory first and the channel record
// second; the two writes land in different namespaces and are not atomic.
type Service struct {
	rt     *runtime.Runtime
	users  *usersvc.Service
	locks  *kmutex.KMutex
	logger *zap.Logger
}

// New creates the channel directory service.
func New(rt *runtime.Runtime, users *usersvc.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rt: rt, users: users, locks: kmutex.New(), logger: logger}
}

// newToken returns a fresh 128-bit random identifier as 32 hex characters.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Service) load(id string) (Channel, error) {
	b, err := s.rt.Channels().Get(id)
	if err != nil {
		if err == errs.ErrNotFound {
			return Channel{}, fmt.Errorf("channel %s: %w", id, errs.ErrNotFound)
		}
		return Channel{}, err
	}
	var ch Channel
	if err := json.Unmarshal(b, &ch); err != nil {
		return Channel{}, fmt.Errorf("%w: decode channel %s: %v", errs.ErrStorage, id, err)
	}
	return ch, nil
}

func (s *Service) store(ch Channel) error {
	b, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("%w: encode channel %s: %v", errs.ErrStorage, ch.ID, err)
	}
	return s.rt.Channels().Put(ch.ID, b)
}

// Create persists a new channel for ownerID and links it into the owner's
// ownership list. The channel record is written first; if the ownership
// update fails the record stays behind and the error propagates. That
// inconsistency window is accepted rather than papered over with a rollback.
func (s *Service) Create(ctx context.Context, name, ownerID string) (string, error) {
	ch := Channel{
		ID:          newToken(),
		SendKey:     newToken(),
		Name:        name,
		Owner:       ownerID,
		Subscribers: []string{},
	}
	if err := s.store(ch); err != nil {
		return "", err
	}
	if err := s.users.AddOwnedChannel(ownerID, ch.ID); err != nil {
		return "", err
	}
	s.logger.Info("channel created",
		zap.String("channel", ch.ID),
		zap.String("name", name),
		zap.String("owner", ownerID))
	return ch.ID, nil
}

// Delete removes a channel: every subscriber is unsubscribed (a full
// two-sided teardown each), the requester's ownership entry is removed, and
// only then is the record deleted. The per-channel lock is held for the whole
// span, so a subscribe cannot slip in between the teardown loop and the
// record delete and leave a dangling id in a user's subscription list. When
// owner enforcement is enabled a requester other than the recorded owner is
// rejected; otherwise the caller is trusted to have checked.
func (s *Service) Delete(ctx context.Context, channelID, requesterID string) error {
	s.locks.Lock(channelID)
	defer s.locks.Unlock(channelID)

	ch, err := s.load(channelID)
	if err != nil {
		return err
	}
	if s.rt.Config().EnforceOwnerOnDelete && ch.Owner != requesterID {
		return fmt.Errorf("delete channel %s: requester %s is not the owner: %w",
			channelID, requesterID, errs.ErrPermissionDenied)
	}
	for _, uid := range ch.Subscribers {
		if err := s.unsubscribeLocked(channelID, uid); err != nil {
			return err
		}
	}
	if err := s.users.RemoveOwnedChannel(requesterID, channelID); err != nil {
		return err
	}
	s.logger.Info("channel deleted", zap.String("channel", channelID), zap.String("requester", requesterID))
	return s.rt.Channels().Delete(channelID)
}

// Subscribe records a two-sided subscription: the user's list first, then
// the channel's subscriber list. A crash between the two leaves the user
// subscribed with a stale channel list; the next unsubscribe heals it.
func (s *Service) Subscribe(ctx context.Context, channelID, userID string) error {
	s.locks.Lock(channelID)
	defer s.locks.Unlock(channelID)

	ch, err := s.load(channelID)
	if err != nil {
		return err
	}
	if err := s.users.Subscribe(userID, channelID); err != nil {
		return err
	}
	ch.Subscribers = append(ch.Subscribers, userID)
	return s.store(ch)
}

// Unsubscribe tears down both sides, user directory first. Removing a user
// that is not subscribed is a no-op on both sides.
func (s *Service) Unsubscribe(ctx context.Context, channelID, userID string) error {
	s.locks.Lock(channelID)
	defer s.locks.Unlock(channelID)
	return s.unsubscribeLocked(channelID, userID)
}

// unsubscribeLocked is the teardown body; the caller holds the channel lock.
func (s *Service) unsubscribeLocked(channelID, userID string) error {
	ch, err := s.load(channelID)
	if err != nil {
		return err
	}
	if err := s.users.Unsubscribe(userID, channelID); err != nil {
		return err
	}
	ch.Subscribers = removeFirst(ch.Subscribers, userID)
	return s.store(ch)
}

// GetByID returns the channel record for id.
func (s *Service) GetByID(id string) (Channel, error) {
	return s.load(id)
}

// GetByOwner returns every channel owned by ownerID, in id order. An owner
// with no channels gets an empty slice, never an error.
func (s *Service) GetByOwner(ownerID string) ([]Channel, error) {
	var out []Channel
	err := s.rt.Channels().Scan(func(key string, value []byte) error {
		var ch Channel
		if err := json.Unmarshal(value, &ch); err != nil {
			return fmt.Errorf("%w: decode channel %s: %v", errs.ErrStorage, key, err)
		}
		if ch.Owner == ownerID {
			out = append(out, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByPublishKey returns the channel whose send key matches. This is the
// publish-time authorization check. The scan is O(total channels); at this
// scale that beats maintaining a second index that can drift.
func (s *Service) GetByPublishKey(key string) (Channel, error) {
	var found *Channel
	err := s.rt.Channels().Scan(func(id string, value []byte) error {
		if found != nil {
			return nil
		}
		var ch Channel
		if err := json.Unmarshal(value, &ch); err != nil {
			return fmt.Errorf("%w: decode channel %s: %v", errs.ErrStorage, id, err)
		}
		if ch.SendKey == key {
			found = &ch
		}
		return nil
	})
	if err != nil {
		return Channel{}, err
	}
	if found == nil {
		return Channel{}, fmt.Errorf("no channel for send key: %w", errs.ErrNotFound)
	}
	return *found, nil
}

// Subscribers resolves every subscriber of the channel through the user
// directory. A missing user fails the whole call rather than being skipped.
func (s *Service) Subscribers(channelID string) ([]usersvc.User, error) {
	ch, err := s.load(channelID)
	if err != nil {
		return nil, err
	}
	out := make([]usersvc.User, 0, len(ch.Subscribers))
	for _, uid := range ch.Subscribers {
		u, err := s.users.Get(uid)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func removeFirst(list []string, v string) []string {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
