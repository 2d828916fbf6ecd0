package compiler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/canvasmesh/canvas/internal/config"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

const simplePipeline = `
appName: demo
basePackage: com.acme.demo
transport: GRPC
steps:
  - name: Fetch
    service: com.acme.demo.FetchService
    input: com.acme.demo.model.InputA
    output: com.acme.demo.model.OutputA
  - name: Enrich
    service: com.acme.demo.EnrichService
    input: com.acme.demo.model.OutputA
    output: com.acme.demo.model.OutputB
`

func writeModule(t *testing.T, configYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "demo-canvas-config.yaml"), []byte(configYAML), 0o644))
	return dir
}

func writeDescriptors(t *testing.T, dir string, services, messages []string) {
	t.Helper()
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("demo.proto"),
		Package: proto.String("acme.demo"),
	}
	for _, msg := range messages {
		file.MessageType = append(file.MessageType, &descriptorpb.DescriptorProto{Name: proto.String(msg)})
	}
	for _, svc := range services {
		file.Service = append(file.Service, &descriptorpb.ServiceDescriptorProto{Name: proto.String(svc)})
	}
	data, err := proto.Marshal(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{file},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "descriptors.desc"), data, 0o644))
}

func TestCompileSimplePipeline(t *testing.T) {
	t.Parallel()

	module := writeModule(t, simplePipeline)
	writeDescriptors(t, module,
		[]string{"FetchService", "EnrichService"},
		[]string{"InputA", "OutputA", "OutputB"})
	output := t.TempDir()

	c, err := NewDriver().Compile(context.Background(), Options{
		ModuleDir: module,
		OutputDir: output,
	})
	require.NoError(t, err)
	require.Len(t, c.Bindings, 2)

	orderPath := filepath.Join(output, "meta", "order.json")
	data, err := os.ReadFile(orderPath)
	require.NoError(t, err)

	var order []string
	require.NoError(t, json.Unmarshal(data, &order))
	require.Equal(t, []string{"Fetch", "Enrich"}, order)

	require.FileExists(t, filepath.Join(output, "server", "fetch_handler.go"))
	require.FileExists(t, filepath.Join(output, "client", "enrich_client.go"))
	require.FileExists(t, filepath.Join(output, "schema", "fetch.proto"))
	require.FileExists(t, filepath.Join(output, "meta", "clients.properties"))
}

func TestCompileExpandsAspects(t *testing.T) {
	t.Parallel()

	module := writeModule(t, simplePipeline+`
aspects:
  - name: persistence
    enabled: true
    scope: GLOBAL
    position: AFTER_STEP
`)
	writeDescriptors(t, module,
		[]string{"FetchService", "EnrichService"},
		[]string{"InputA", "OutputA", "OutputB"})

	c, err := NewDriver().Compile(context.Background(), Options{ModuleDir: module})
	require.NoError(t, err)

	var syntheticNames []string
	for _, step := range c.Expanded {
		if step.Synthetic() {
			syntheticNames = append(syntheticNames, step.Name)
		}
	}
	require.Equal(t, []string{
		"PersistenceOutputASideEffectGrpcClientStep",
		"PersistenceOutputBSideEffectGrpcClientStep",
	}, syntheticNames)
}

func TestCompileLocalTransportNeedsNoDescriptors(t *testing.T) {
	t.Parallel()

	module := writeModule(t, `
appName: demo
basePackage: com.acme.demo
transport: LOCAL
steps:
  - name: Normalize
    service: com.acme.demo.NormalizeService
    input: com.acme.demo.model.Document
    output: com.acme.demo.model.Document
`)

	c, err := NewDriver().Compile(context.Background(), Options{ModuleDir: module})
	require.NoError(t, err)
	require.Len(t, c.Bindings, 1)
	require.Equal(t, "NormalizeService", c.Bindings[0].Service)
	require.False(t, c.HasTarget("Normalize", TargetSchemaFragment))
}

func TestCompileTypeContinuityViolation(t *testing.T) {
	t.Parallel()

	module := writeModule(t, `
appName: demo
basePackage: com.acme.demo
transport: LOCAL
steps:
  - name: Fetch
    service: com.acme.demo.FetchService
    input: com.acme.demo.model.InputA
    output: com.acme.demo.model.OutputA
  - name: Enrich
    service: com.acme.demo.EnrichService
    input: com.acme.demo.model.Unrelated
    output: com.acme.demo.model.OutputB
`)

	_, err := NewDriver().Compile(context.Background(), Options{ModuleDir: module})
	require.Error(t, err)
	require.Equal(t, canvaserrors.KindInvalidConfiguration, canvaserrors.Classify(err))
	require.Contains(t, err.Error(), "type mismatch")
}

func TestCompileStreamMustBeConsumed(t *testing.T) {
	t.Parallel()

	module := writeModule(t, `
appName: demo
basePackage: com.acme.demo
transport: LOCAL
steps:
  - name: Tokenize
    service: com.acme.demo.TokenizeService
    input: com.acme.demo.model.Document
    output: com.acme.demo.model.TokenBatch
    cardinality: ONE_MANY
  - name: Stamp
    service: com.acme.demo.StampService
    input: com.acme.demo.model.TokenBatch
    output: com.acme.demo.model.TokenBatch
`)

	_, err := NewDriver().Compile(context.Background(), Options{ModuleDir: module})
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not consume")
}

func TestCompileStrictMappingFailsUnassignedStep(t *testing.T) {
	t.Parallel()

	module := writeModule(t, `
appName: demo
basePackage: com.acme.demo
transport: LOCAL
steps:
  - name: Normalize
    service: com.acme.demo.NormalizeService
    input: com.acme.demo.model.Document
    output: com.acme.demo.model.Document
`)
	mappingFile := filepath.Join(module, "runtime-mapping.yaml")
	require.NoError(t, os.WriteFile(mappingFile, []byte(`
enabled: true
layout: MODULAR
validation: STRICT
modules:
  indexer: search-rt
steps:
  SomethingElse: indexer
`), 0o644))

	_, err := NewDriver().Compile(context.Background(), Options{
		ModuleDir:   module,
		MappingFile: mappingFile,
		ModuleName:  "indexer",
	})
	require.Error(t, err)
	require.Equal(t, canvaserrors.KindInvalidConfiguration, canvaserrors.Classify(err))
	require.Contains(t, err.Error(), `"Normalize"`, "the failing step is named")
}

func TestCompileStrictMappingRequiresModuleName(t *testing.T) {
	t.Parallel()

	module := writeModule(t, `
appName: demo
basePackage: com.acme.demo
transport: LOCAL
steps:
  - name: Normalize
    service: com.acme.demo.NormalizeService
    input: com.acme.demo.model.Document
    output: com.acme.demo.model.Document
`)
	mappingFile := filepath.Join(module, "runtime-mapping.yaml")
	require.NoError(t, os.WriteFile(mappingFile, []byte(`
validation: STRICT
defaults:
  module: core
`), 0o644))

	_, err := NewDriver().Compile(context.Background(), Options{
		ModuleDir:   module,
		MappingFile: mappingFile,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "module.name")
}

func TestCompileNoConfiguration(t *testing.T) {
	t.Parallel()

	_, err := NewDriver().Compile(context.Background(), Options{ModuleDir: t.TempDir()})
	require.Error(t, err)
	require.Equal(t, canvaserrors.KindInvalidConfiguration, canvaserrors.Classify(err))
}

func TestCompileCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDriver().Compile(ctx, Options{ModuleDir: t.TempDir()})
	require.Error(t, err)
	require.Equal(t, canvaserrors.KindCancelled, canvaserrors.Classify(err))
}

func TestRuntimeMappingResolutionIdempotent(t *testing.T) {
	t.Parallel()

	c := NewContext(Options{})
	c.Catalogue = model.NewCatalogue([]model.StepModel{
		{Name: "Fetch"},
		{Name: "Tokenize"},
	}, nil)
	c.Mapping = &config.RuntimeMapping{
		Defaults: config.MappingDefaults{Module: "core"},
		Steps:    map[string]string{"Tokenize": "indexer"},
	}

	assign := func() []string {
		for i := range c.Catalogue.Steps {
			step := &c.Catalogue.Steps[i]
			if step.Module == "" {
				step.Module = c.Mapping.ModuleFor(step.Name, step.Synthetic())
			}
		}
		modules := make([]string, len(c.Catalogue.Steps))
		for i, step := range c.Catalogue.Steps {
			modules[i] = step.Module
		}
		return modules
	}

	first := assign()
	require.Equal(t, []string{"core", "indexer"}, first)
	require.Equal(t, first, assign(), "second resolution is a no-op")
}

func TestApplyOption(t *testing.T) {
	t.Parallel()

	var opts Options
	require.True(t, opts.ApplyOption(OptionDescriptorFile, "a.desc"))
	require.True(t, opts.ApplyOption(OptionDescriptorPath, "descriptors"))
	require.True(t, opts.ApplyOption(OptionModuleName, "indexer"))
	require.False(t, opts.ApplyOption("unknown.key", "x"))
	require.Equal(t, "a.desc", opts.DescriptorFile)
	require.Equal(t, "descriptors", opts.DescriptorDir)
	require.Equal(t, "indexer", opts.ModuleName)
}
