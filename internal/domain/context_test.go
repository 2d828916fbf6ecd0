package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineContext(t *testing.T) {
	t.Parallel()

	pctx := NewPipelineContext(PolicyPrefer)
	_, err := uuid.Parse(pctx.InvocationID)
	require.NoError(t, err)
	require.Equal(t, PolicyPrefer, pctx.CachePolicy)
}

func TestDerivationsDoNotMutateOriginal(t *testing.T) {
	t.Parallel()

	base := NewPipelineContext(PolicyBypass).WithAttribute("tenant", "acme")

	tagged := base.WithVersions("s2", "m7")
	require.Empty(t, base.SchemaVersion)
	require.Equal(t, "s2", tagged.SchemaVersion)
	require.Equal(t, "m7", tagged.ModelVersion)

	child := base.WithAttribute("caller", "ingest")
	require.NotContains(t, base.Attributes, "caller")
	require.Equal(t, "acme", child.Attributes["tenant"])
	require.Equal(t, "ingest", child.Attributes["caller"])

	lineage := base.WithLineage("doc-1")
	require.Empty(t, base.Lineage)
	require.Equal(t, "doc-1", lineage.Lineage)
}
