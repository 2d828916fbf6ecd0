package guard

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Guard is the bounded idempotency dedup structure. Keys are remembered in
// access order up to maxKeys; older keys are evicted so the guard holds a
// sliding window of recently seen work.
type Guard struct {
	mu   sync.Mutex
	keys *lru.Cache[string, struct{}]
}

// New creates a guard bounded to maxKeys entries. maxKeys must be positive.
func New(maxKeys int) (*Guard, error) {
	if maxKeys <= 0 {
		return nil, canvaserrors.NewInvalidInput("guard capacity must be positive", nil)
	}
	keys, err := lru.New[string, struct{}](maxKeys)
	if err != nil {
		return nil, canvaserrors.NewInvalidInput("guard capacity rejected", err)
	}
	return &Guard{keys: keys}, nil
}

// MarkIfNew records the key and reports whether it was previously unseen.
// Blank keys are rejected.
func (g *Guard) MarkIfNew(key string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, canvaserrors.NewInvalidInput("idempotency key is blank", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seen := g.keys.Get(key); seen {
		return false, nil
	}
	g.keys.Add(key, struct{}{})
	return true, nil
}

// Contains reports whether the key is currently tracked without refreshing
// its recency.
func (g *Guard) Contains(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys.Contains(key)
}

// Len returns the number of tracked keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keys.Len()
}
