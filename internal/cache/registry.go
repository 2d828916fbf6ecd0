package cache

import (
	"sort"
	"sync"

	"github.com/canvasmesh/canvas/internal/domain"
)

// Registry holds the priority-ordered set of key strategies. Registration
// is expected at startup; resolution is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies []KeyStrategy
}

// NewRegistry creates a registry seeded with the supplied strategies.
func NewRegistry(strategies ...KeyStrategy) *Registry {
	r := &Registry{}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register inserts a strategy keeping descending priority order. Insertion
// is stable so equal priorities keep registration order.
func (r *Registry) Register(s KeyStrategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].Priority() > r.strategies[j].Priority()
	})
}

// ResolveKey derives the cache key for an item expected to produce the
// given target type. Strategies targeting the type are consulted first in
// descending priority; the first non-empty key wins. Non-targeted fallback
// strategies run only when no targeted strategy matched.
func (r *Registry) ResolveKey(item any, pctx domain.PipelineContext, targetType string) (string, bool) {
	r.mu.RLock()
	strategies := make([]KeyStrategy, len(r.strategies))
	copy(strategies, r.strategies)
	r.mu.RUnlock()

	for _, s := range strategies {
		if !s.SupportsTarget(targetType) {
			continue
		}
		if key, ok := s.Resolve(item, pctx); ok && key != "" {
			return key, true
		}
	}

	for _, s := range strategies {
		if s.SupportsTarget(targetType) || !s.SupportsTarget("") {
			continue
		}
		if key, ok := s.Resolve(item, pctx); ok && key != "" {
			return key, true
		}
	}

	return "", false
}
