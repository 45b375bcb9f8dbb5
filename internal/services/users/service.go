package usersvc

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	"github.com/chinuno-usami/server-tan/pkg/kmutex"
)

// User is the directory record for one platform identity. Ownership and
// subscription relationships are plain channel ids resolved through the
// channel directory, never live references.
type User struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Owns       []string `json:"owns"`
	Subscribes []string `json:"subscribes"`
}

// NameResolver looks up a user's display name on the push platform. Add is
// the only operation that calls out; everything else is local.
type NameResolver interface {
	ResolveDisplayName(ctx context.Context, userID string) (string, error)
}

// Service is the user directory. All mutations are read-modify-write on a
// single record, serialized per user id.
type Service struct {
	rt       *runtime.Runtime
	resolver NameResolver
	locks    *kmutex.KMutex
	logger   *zap.Logger
}

// New creates the user directory service.
func New(rt *runtime.Runtime, resolver NameResolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rt: rt, resolver: resolver, locks: kmutex.New(), logger: logger}
}

func (s *Service) load(id string) (User, error) {
	b, err := s.rt.Users().Get(id)
	if err != nil {
		if err == errs.ErrNotFound {
			return User{}, fmt.Errorf("user %s: %w", id, errs.ErrNotFound)
		}
		return User{}, err
	}
	var u User
	if err := json.Unmarshal(b, &u); err != nil {
		return User{}, fmt.Errorf("%w: decode user %s: %v", errs.ErrStorage, id, err)
	}
	return u, nil
}

func (s *Service) store(u User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: encode user %s: %v", errs.ErrStorage, u.ID, err)
	}
	return s.rt.Users().Put(u.ID, b)
}

// Get returns the user record for id.
func (s *Service) Get(id string) (User, error) {
	return s.load(id)
}

// Add registers a new user, resolving the display name through the platform.
// The user is not persisted when resolution fails.
func (s *Service) Add(ctx context.Context, id string) error {
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	if _, err := s.rt.Users().Get(id); err == nil {
		return fmt.Errorf("user %s: %w", id, errs.ErrAlreadyExists)
	} else if err != errs.ErrNotFound {
		return err
	}

	name, err := s.resolver.ResolveDisplayName(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve name for %s: %w", id, err)
	}
	s.logger.Info("registering user", zap.String("user", id), zap.String("name", name))
	return s.store(User{ID: id, Name: name, Owns: []string{}, Subscribes: []string{}})
}

// Subscribe appends channelID to the user's subscription list.
func (s *Service) Subscribe(userID, channelID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	u, err := s.load(userID)
	if err != nil {
		return err
	}
	for _, c := range u.Subscribes {
		if c == channelID {
			return fmt.Errorf("already subscribed to %s: %w", channelID, errs.ErrAlreadyExists)
		}
	}
	u.Subscribes = append(u.Subscribes, channelID)
	return s.store(u)
}

// Unsubscribe removes the first matching subscription entry. Unsubscribing
// from a channel the user is not subscribed to is a no-op.
func (s *Service) Unsubscribe(userID, channelID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	u, err := s.load(userID)
	if err != nil {
		return err
	}
	u.Subscribes = removeFirst(u.Subscribes, channelID)
	return s.store(u)
}

// AddOwnedChannel appends channelID to the user's ownership list.
func (s *Service) AddOwnedChannel(userID, channelID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	u, err := s.load(userID)
	if err != nil {
		return err
	}
	u.Owns = append(u.Owns, channelID)
	return s.store(u)
}

// RemoveOwnedChannel removes the first matching ownership entry; idempotent
// when absent.
func (s *Service) RemoveOwnedChannel(userID, channelID string) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	u, err := s.load(userID)
	if err != nil {
		return err
	}
	u.Owns = removeFirst(u.Owns, channelID)
	return s.store(u)
}

func removeFirst(list []string, v string) []string {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
