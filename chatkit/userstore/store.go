// Package userstore is the shared cache of user records. Users are held
// once per id and updated in place; unknown ids are fetched from the core
// service with at most one request in flight per id.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

var (
	ErrClosed    = errors.New("userstore: store closed")
	ErrNoFetcher = errors.New("userstore: no fetcher configured")
)

// enrichTimeout bounds background fetches started by Resolve.
const enrichTimeout = 30 * time.Second

// Fetcher loads a user record.
type Fetcher interface {
	FetchUser(ctx context.Context, id string) (*domain.User, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string) (*domain.User, error)

func (f FetcherFunc) FetchUser(ctx context.Context, id string) (*domain.User, error) {
	return f(ctx, id)
}

// Store caches users for the lifetime of a subscription. There is no
// eviction.
type Store struct {
	fetcher Fetcher
	logger  zerolog.Logger
	sf      singleflight.Group

	mu        sync.RWMutex
	users     map[string]*domain.User
	known     map[string]bool
	attempted map[string]bool
	closed    bool
}

// New creates a Store. A nil fetcher makes a cache-only store: Get
// serves known users and fails with ErrNoFetcher for the rest.
func New(fetcher Fetcher, logger zerolog.Logger) *Store {
	return &Store{
		fetcher:   fetcher,
		logger:    logger,
		users:     make(map[string]*domain.User),
		known:     make(map[string]bool),
		attempted: make(map[string]bool),
	}
}

// Peek returns the cached record without fetching.
func (s *Store) Peek(id string) (*domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Get returns the user, fetching it if only a placeholder (or nothing) is
// cached. Concurrent calls for one id share a single fetch. The fetch
// outlives a cancelled caller; its result is discarded if the store has
// been closed in the meantime.
func (s *Store) Get(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	u, known, closed := s.users[id], s.known[id], s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if known {
		return u, nil
	}
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}

	ch := s.sf.DoChan(id, func() (interface{}, error) {
		return s.fetch(context.WithoutCancel(ctx), id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		user, ok := res.Val.(*domain.User)
		if !ok {
			return nil, fmt.Errorf("unexpected result type from singleflight")
		}
		return user, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) fetch(ctx context.Context, id string) (*domain.User, error) {
	// A flight that finished just before this one started has already
	// cached the user.
	s.mu.RLock()
	if u, ok := s.users[id]; ok && s.known[id] {
		s.mu.RUnlock()
		return u, nil
	}
	s.mu.RUnlock()

	fetched, err := s.fetcher.FetchUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.attempted[id] = true
	u := s.canonicalLocked(id)
	if fetched != nil {
		u.Merge(fetched)
	}
	s.known[id] = true
	return u, nil
}

// Resolve returns the canonical record for id without blocking. An
// unknown id gets a placeholder that is enriched in the background.
func (s *Store) Resolve(id string) *domain.User {
	s.mu.Lock()
	u := s.canonicalLocked(id)
	enrich := !s.known[id] && !s.attempted[id] && !s.closed && s.fetcher != nil
	if enrich {
		s.attempted[id] = true
	}
	s.mu.Unlock()

	if enrich {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
			defer cancel()
			if _, err := s.Get(ctx, id); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Warn().Err(err).Str(log.FieldUserID, id).Msg("user enrichment failed")
			}
		}()
	}
	return u
}

// Update merges a user payload into the canonical record and returns it.
func (s *Store) Update(user *domain.User) *domain.User {
	if user == nil || user.ID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.canonicalLocked(user.ID)
	if u != user {
		u.Merge(user)
	}
	if !s.closed {
		s.known[user.ID] = true
	}
	return u
}

// Users returns every cached record ordered by id.
func (s *Store) Users() []*domain.User {
	s.mu.RLock()
	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops the store from accepting fetch results. Fetches already in
// flight run to completion.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) canonicalLocked(id string) *domain.User {
	u, ok := s.users[id]
	if !ok {
		u = domain.NewUser(id)
		s.users[id] = u
	}
	return u
}
