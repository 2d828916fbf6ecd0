package model

import (
	"strings"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Cardinality is the stream shape pair of a step. Only the four canonical
// values exist after extraction; the legacy aliases EXPANSION and REDUCTION
// are normalised on ingest.
type Cardinality string

const (
	OneOne   Cardinality = "ONE_ONE"
	OneMany  Cardinality = "ONE_MANY"
	ManyOne  Cardinality = "MANY_ONE"
	ManyMany Cardinality = "MANY_MANY"
)

var cardinalityAliases = map[string]Cardinality{
	"ONE_ONE":   OneOne,
	"ONE_MANY":  OneMany,
	"MANY_ONE":  ManyOne,
	"MANY_MANY": ManyMany,
	"EXPANSION": OneMany,
	"REDUCTION": ManyOne,
}

// ParseCardinality canonicalises a declared cardinality token. An empty
// token defaults to ONE_ONE.
func ParseCardinality(token string) (Cardinality, error) {
	if token == "" {
		return OneOne, nil
	}
	if c, ok := cardinalityAliases[strings.ToUpper(strings.TrimSpace(token))]; ok {
		return c, nil
	}
	return "", canvaserrors.NewInvalidConfiguration("unknown cardinality", nil).
		WithContext(map[string]any{"cardinality": token})
}

// StreamingIn reports whether the step consumes a stream of inputs.
func (c Cardinality) StreamingIn() bool {
	return c == ManyOne || c == ManyMany
}

// StreamingOut reports whether the step produces a stream of outputs.
func (c Cardinality) StreamingOut() bool {
	return c == OneMany || c == ManyMany
}
