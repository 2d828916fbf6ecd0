package domain

import (
	"github.com/google/uuid"
)

// CachePolicy selects how the orchestrator interacts with the cache for a
// single invocation.
type CachePolicy string

const (
	PolicyRequire      CachePolicy = "require"
	PolicyPrefer       CachePolicy = "prefer"
	PolicyBypass       CachePolicy = "bypass"
	PolicyCacheOnly    CachePolicy = "cache-only"
	PolicyWriteThrough CachePolicy = "write-through"
)

// PipelineContext carries per-invocation metadata through every step. It is
// created once at pipeline entry and never mutated afterwards; derivations
// return copies.
type PipelineContext struct {
	InvocationID  string
	Lineage       string
	CachePolicy   CachePolicy
	SchemaVersion string
	ModelVersion  string
	Attributes    map[string]string
}

// NewPipelineContext creates a context for a fresh invocation.
func NewPipelineContext(policy CachePolicy) PipelineContext {
	return PipelineContext{
		InvocationID: uuid.New().String(),
		CachePolicy:  policy,
	}
}

// WithVersions returns a copy tagged with schema and model versions. A
// version change invalidates previously cached entries because the tags are
// folded into every cache key.
func (c PipelineContext) WithVersions(schema, model string) PipelineContext {
	c.Attributes = cloneAttributes(c.Attributes)
	c.SchemaVersion = schema
	c.ModelVersion = model
	return c
}

// WithLineage returns a copy referencing the previous item in the trace
// envelope.
func (c PipelineContext) WithLineage(ref string) PipelineContext {
	c.Attributes = cloneAttributes(c.Attributes)
	c.Lineage = ref
	return c
}

// WithAttribute returns a copy carrying an extra tenant or caller attribute.
func (c PipelineContext) WithAttribute(key, value string) PipelineContext {
	attrs := cloneAttributes(c.Attributes)
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs[key] = value
	c.Attributes = attrs
	return c
}

func cloneAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
