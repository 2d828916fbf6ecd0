package cache

import (
	"context"
	"strings"

	"github.com/canvasmesh/canvas/internal/domain"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// ParsePolicy normalises a declared cache policy token.
func ParsePolicy(token string) (domain.CachePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "require", "require-cache":
		return domain.PolicyRequire, nil
	case "prefer", "prefer-cache":
		return domain.PolicyPrefer, nil
	case "bypass", "bypass-cache":
		return domain.PolicyBypass, nil
	case "cache-only":
		return domain.PolicyCacheOnly, nil
	case "write-through", "":
		return domain.PolicyWriteThrough, nil
	default:
		return "", canvaserrors.NewInvalidConfiguration("unknown cache policy", nil).
			WithContext(map[string]any{"policy": token})
	}
}

// ComputeFunc produces the value on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Gate applies the five cache policies in front of a step computation.
type Gate struct {
	Registry *Registry
	Store    *Store
}

// Apply runs compute under the policy carried by the pipeline context. The
// key is derived from the input item against the step's declared target
// type; when no strategy yields a key the gate degrades to plain
// computation, except under the require policy which fails.
func (g *Gate) Apply(ctx context.Context, item any, pctx domain.PipelineContext, targetType string, compute ComputeFunc) (any, error) {
	if g == nil || g.Registry == nil || g.Store == nil {
		return compute(ctx)
	}

	policy := pctx.CachePolicy
	if policy == "" {
		policy = domain.PolicyWriteThrough
	}
	if policy == domain.PolicyBypass {
		return compute(ctx)
	}

	key, ok := g.Registry.ResolveKey(item, pctx, targetType)
	if !ok {
		if policy == domain.PolicyRequire {
			return nil, canvaserrors.NewPermanent("no cache key strategy for required cache read", nil).
				WithContext(map[string]any{"target": targetType})
		}
		return compute(ctx)
	}

	switch policy {
	case domain.PolicyRequire:
		if value, hit := g.Store.Get(key); hit {
			return value, nil
		}
		return nil, canvaserrors.NewPermanent("required cache entry missing", nil).
			WithContext(map[string]any{"key": key})

	case domain.PolicyCacheOnly:
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := g.Store.Put(key, value); err != nil {
			return nil, err
		}
		return value, nil

	default:
		// prefer and write-through read first and populate on miss.
		if value, hit := g.Store.Get(key); hit {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := g.Store.Put(key, value); err != nil {
			return nil, err
		}
		return value, nil
	}
}
