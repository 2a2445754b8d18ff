package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in a bounded in-process LRU. Sessions do not
// survive a restart; it is meant for single-instance and development setups
// without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryStore keeps at most size sessions, each for at most maxTTL.
func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	if maxTTL <= 0 {
		maxTTL = defaultTTL
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, tokenHash string, sess Session, expiresAt time.Time) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(defaultTTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(tokenHash, memoryEntry{session: sess, expiresAt: expiresAt})
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, tokenHash string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(tokenHash)
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		s.cache.Remove(tokenHash)
		return Session{}, ErrNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(tokenHash)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return nil
}
