// internal/session/store.go

// Package session manages named, long-lived browser instances. A session
// keeps its cookies and cache across requests, which is what makes a cleared
// challenge reusable.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/unflare/api/schemas"
	"github.com/xkilldash9x/unflare/internal/browser"
	"go.uber.org/zap"
)

// Factory constructs a browser driver, optionally tunneled through the given
// proxy. Injected so the store can be tested without launching anything.
type Factory func(ctx context.Context, proxy *schemas.Proxy) (browser.Driver, error)

// Session is a named browser instance with its creation-time proxy binding.
// The proxy is immutable for the session's lifetime; requests that want a
// different proxy need a different session.
type Session struct {
	ID         string
	Driver     browser.Driver
	Proxy      *schemas.Proxy
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Lifetime reports how long the session has existed relative to now.
func (s *Session) Lifetime(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Store is the registry of live sessions. All access goes through the mutex;
// expiry is lazy and happens on TTL-bearing lookups only.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates an empty session registry.
func NewStore(factory Factory, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   logger.Named("sessions"),
		now:      time.Now,
	}
}

// Create registers a new session under the given id, generating one when id
// is empty. If the id already exists the live session is returned untouched
// and fresh is false.
func (s *Store) Create(ctx context.Context, id string, proxy *schemas.Proxy) (sess *Session, fresh bool, err error) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return existing, false, nil
	}

	sess, err = s.newSessionLocked(ctx, id, proxy)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// newSessionLocked launches a browser and registers the session. The caller
// holds the mutex.
func (s *Store) newSessionLocked(ctx context.Context, id string, proxy *schemas.Proxy) (*Session, error) {
	drv, err := s.factory(ctx, proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser for session %q: %w", id, err)
	}

	now := s.now()
	sess := &Session{
		ID:         id,
		Driver:     drv,
		Proxy:      proxy,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	s.sessions[id] = sess

	s.logger.Info("Session created.", zap.String("session", id), zap.Bool("proxied", proxy != nil))
	return sess, nil
}

// Get returns the session for id, creating it on the fly (without a proxy)
// when the id is unknown. Lazy TTL expiry applies: when ttl is positive and
// the session has outlived it, the old browser is destroyed and a new session
// is created under the same id, without a proxy. fresh reports whether the
// returned session was (re)created by this call.
func (s *Store) Get(ctx context.Context, id string, ttl time.Duration) (sess *Session, fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		sess, err = s.newSessionLocked(ctx, id, nil)
		if err != nil {
			return nil, false, err
		}
		return sess, true, nil
	}

	now := s.now()
	if ttl > 0 && existing.Lifetime(now) > ttl {
		s.logger.Info("Session expired, recreating.",
			zap.String("session", id),
			zap.Duration("lifetime", existing.Lifetime(now)),
			zap.Duration("ttl", ttl),
		)
		if err := existing.Driver.Close(); err != nil {
			s.logger.Warn("Failed to close expired session browser.", zap.String("session", id), zap.Error(err))
		}
		delete(s.sessions, id)

		drv, err := s.factory(ctx, nil)
		if err != nil {
			return nil, false, fmt.Errorf("failed to recreate expired session %q: %w", id, err)
		}
		sess = &Session{
			ID:         id,
			Driver:     drv,
			CreatedAt:  now,
			LastUsedAt: now,
		}
		s.sessions[id] = sess
		return sess, true, nil
	}

	existing.LastUsedAt = now
	return existing, false, nil
}

// Destroy removes the session and closes its browser. Reports whether the
// session existed.
func (s *Store) Destroy(ctx context.Context, id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	if err := sess.Driver.Close(); err != nil {
		s.logger.Warn("Failed to close session browser.", zap.String("session", id), zap.Error(err))
	}
	s.logger.Info("Session destroyed.", zap.String("session", id))
	return true
}

// List returns the ids of all live sessions, sorted.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close destroys every session. Used on shutdown.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	remaining := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		remaining = append(remaining, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range remaining {
		if err := sess.Driver.Close(); err != nil {
			s.logger.Warn("Failed to close session browser on shutdown.",
				zap.String("session", sess.ID), zap.Error(err))
		}
	}
	if len(remaining) > 0 {
		s.logger.Info("All sessions closed.", zap.Int("count", len(remaining)))
	}
}
