package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/canvasmesh/canvas/internal/logger"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Store is the process-wide bounded cache of computed step outputs. All
// mutation happens under one mutex; iteration is only exposed through
// snapshots.
type Store struct {
	mu      sync.Mutex
	entries *lru.Cache[string, any]
	log     *logger.Logger
	closed  bool
}

// NewStore creates a store bounded to capacity entries. Capacity must be
// positive.
func NewStore(capacity int, log *logger.Logger) (*Store, error) {
	if capacity <= 0 {
		return nil, canvaserrors.NewInvalidInput("cache capacity must be positive", nil)
	}
	entries, err := lru.New[string, any](capacity)
	if err != nil {
		return nil, canvaserrors.NewInvalidInput("cache capacity rejected", err)
	}
	return &Store{entries: entries, log: log.WithComponent("cache")}, nil
}

// Get returns the cached value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || key == "" {
		return nil, false
	}
	return s.entries.Get(key)
}

// Put stores a value under key. Blank keys are rejected.
func (s *Store) Put(key string, value any) error {
	if key == "" {
		return canvaserrors.NewInvalidInput("cache key is blank", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return canvaserrors.NewInvalidInput("cache store is shut down", nil)
	}
	if evicted := s.entries.Add(key, value); evicted {
		s.log.Debug("cache entry evicted")
	}
	return nil
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.entries.Len()
}

// Snapshot returns a copy of all keys currently cached.
func (s *Store) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.entries.Keys()
}

// Shutdown releases the store; subsequent writes fail.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.entries.Purge()
	s.closed = true
}
