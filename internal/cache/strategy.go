package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/canvasmesh/canvas/internal/domain"
)

// Environment variables consulted for version tags when the pipeline
// context carries none. A version change invalidates prior cache entries
// because the tags are folded into every key.
const (
	EnvSchemaVersion = "CANVAS_SCHEMA_VERSION"
	EnvModelVersion  = "CANVAS_MODEL_VERSION"
)

// KeyStrategy derives a deterministic cache key from a domain item and the
// pipeline context. A strategy that lacks the fingerprint it needs must
// return ok=false, never a partial key.
type KeyStrategy interface {
	// Resolve computes the key for the item, or reports ok=false when the
	// strategy does not apply.
	Resolve(item any, pctx domain.PipelineContext) (string, bool)
	// SupportsTarget reports whether the strategy targets the named output
	// type. Non-targeted fallback strategies report true for the empty
	// target.
	SupportsTarget(typeName string) bool
	// Priority orders strategies; higher wins.
	Priority() int
}

// BuildKey assembles the canonical key layout: target type, trimmed
// fingerprint, then any active version tags.
func BuildKey(typeName, fingerprint string, pctx domain.PipelineContext) string {
	fingerprint = strings.TrimSpace(fingerprint)
	if typeName == "" || fingerprint == "" {
		return ""
	}
	parts := []string{typeName, fingerprint}
	if schema := versionTag(pctx.SchemaVersion, EnvSchemaVersion); schema != "" {
		parts = append(parts, "schema="+schema)
	}
	if model := versionTag(pctx.ModelVersion, EnvModelVersion); model != "" {
		parts = append(parts, "model="+model)
	}
	return strings.Join(parts, "|")
}

func versionTag(explicit, envKey string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(envKey)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// ContentHashStrategy keys documents by a content hash of the body.
type ContentHashStrategy struct {
	Target string
	Prio   int
}

func (s ContentHashStrategy) Resolve(item any, pctx domain.PipelineContext) (string, bool) {
	doc, ok := item.(domain.Document)
	if !ok || strings.TrimSpace(doc.Body) == "" {
		return "", false
	}
	return BuildKey(s.Target, hashString(doc.Body), pctx), true
}

func (s ContentHashStrategy) SupportsTarget(typeName string) bool {
	return typeName == s.Target
}

func (s ContentHashStrategy) Priority() int { return s.Prio }

// URLStrategy keys documents by their source URL.
type URLStrategy struct {
	Target string
	Prio   int
}

func (s URLStrategy) Resolve(item any, pctx domain.PipelineContext) (string, bool) {
	doc, ok := item.(domain.Document)
	if !ok || strings.TrimSpace(doc.URL) == "" {
		return "", false
	}
	return BuildKey(s.Target, strings.TrimSpace(doc.URL), pctx), true
}

func (s URLStrategy) SupportsTarget(typeName string) bool {
	return typeName == s.Target
}

func (s URLStrategy) Priority() int { return s.Prio }

// TokenHashStrategy keys token batches by a hash over their tokens.
type TokenHashStrategy struct {
	Target string
	Prio   int
}

func (s TokenHashStrategy) Resolve(item any, pctx domain.PipelineContext) (string, bool) {
	batch, ok := item.(domain.TokenBatch)
	if !ok || len(batch.Tokens) == 0 {
		return "", false
	}
	return BuildKey(s.Target, hashString(strings.Join(batch.Tokens, "\x1f")), pctx), true
}

func (s TokenHashStrategy) SupportsTarget(typeName string) bool {
	return typeName == s.Target
}

func (s TokenHashStrategy) Priority() int { return s.Prio }
