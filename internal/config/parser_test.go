package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

const validYAML = `appName: search-indexer
basePackage: com.acme.search
transport: GRPC
steps:
  - name: Fetch
    service: com.acme.search.FetchService
    input: Document
    output: Document
  - name: Tokenize
    delegate: com.acme.search.TokenizeOperator
    input: Document
    output: TokenBatch
    cardinality: EXPANSION
    externalMapper: com.acme.search.TokenBatchMapper
aspects:
  - name: persistence
    enabled: true
    scope: GLOBAL
    position: AFTER_STEP
    order: 10
`

func TestParseBytesValid(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, "search-indexer", cfg.AppName)
	require.Len(t, cfg.Steps, 2)

	tokenize := cfg.Steps[1]
	require.Equal(t, "com.acme.search.TokenizeOperator", tokenize.Operator, "delegate folds into operator")
	require.Equal(t, "com.acme.search.TokenBatchMapper", tokenize.OperatorMapper, "externalMapper folds into operatorMapper")
	require.False(t, tokenize.BothOperatorKeys)
}

func TestParseBytesDefaultsTransport(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(`appName: app
basePackage: com.acme
steps:
  - name: A
    service: com.acme.AService
`))
	require.NoError(t, err)
	require.Equal(t, "GRPC", cfg.Transport)
}

func TestParseBytesRecordsAliasCollision(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(`appName: app
basePackage: com.acme
steps:
  - name: A
    operator: com.acme.AOperator
    delegate: com.acme.ADelegate
    input: Doc
    output: Doc
`))
	require.NoError(t, err, "collision is an extraction-time rejection, not a parse failure")
	require.True(t, cfg.Steps[0].BothOperatorKeys)
}

func TestParseBytesCollectsUnknownKeys(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes([]byte(`appName: app
basePackage: com.acme
steps:
  - name: A
    service: com.acme.AService
    retries: 3
    colour: blue
`))
	require.NoError(t, err)
	require.Equal(t, []string{"colour", "retries"}, cfg.Steps[0].UnknownKeys)
}

func TestParseBytesRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		contents string
	}{
		{
			name:     "invalid yaml",
			contents: "appName: [broken",
		},
		{
			name: "missing steps",
			contents: `appName: app
basePackage: com.acme
`,
		},
		{
			name: "invalid base package segment",
			contents: `appName: app
basePackage: com.9acme
steps:
  - name: A
    service: com.acme.AService
`,
		},
		{
			name: "duplicate step names",
			contents: `appName: app
basePackage: com.acme
steps:
  - name: A
    service: com.acme.AService
  - name: A
    service: com.acme.BService
`,
		},
		{
			name: "steps-scoped aspect without targets",
			contents: `appName: app
basePackage: com.acme
steps:
  - name: A
    service: com.acme.AService
aspects:
  - name: persistence
    enabled: true
    scope: STEPS
    position: AFTER_STEP
`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes([]byte(tc.contents))
			require.Error(t, err)
			require.Equal(t, canvaserrors.KindInvalidConfiguration, canvaserrors.Classify(err))
		})
	}
}

func TestDisabledStepsAspectNeedsNoTargets(t *testing.T) {
	t.Parallel()

	_, err := ParseBytes([]byte(`appName: app
basePackage: com.acme
steps:
  - name: A
    service: com.acme.AService
aspects:
  - name: persistence
    enabled: false
    scope: STEPS
    position: AFTER_STEP
`))
	require.NoError(t, err)
}

func TestParseConfigAddsPathContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "canvas-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("appName: [broken"), 0o644))

	_, err := ParseConfig(path)
	require.Error(t, err)

	var typed *canvaserrors.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, path, typed.Context["path"])
}
