package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/canvasmesh/canvas/internal/binding"
	"github.com/canvasmesh/canvas/internal/codegen"
	"github.com/canvasmesh/canvas/internal/config"
	"github.com/canvasmesh/canvas/internal/expander"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Phase is one stage of the compilation pipeline. Phases run in strict
// order against the shared context; the driver stops at the first error.
type Phase interface {
	Name() string
	Run(ctx context.Context, c *Context) error
}

// discoveryPhase locates and parses the pipeline configuration.
type discoveryPhase struct{}

func (discoveryPhase) Name() string { return "discovery" }

func (discoveryPhase) Run(_ context.Context, c *Context) error {
	path := c.Options.ConfigFile
	if path == "" {
		located, found, err := config.Locate(c.Options.ModuleDir)
		if err != nil {
			return err
		}
		if !found {
			return canvaserrors.NewInvalidConfiguration("no pipeline configuration found", nil).
				WithContext(map[string]any{"moduleDir": c.Options.ModuleDir})
		}
		path = located
	}

	cfg, err := config.ParseConfig(path)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	c.ConfigPath = path
	c.Config = cfg
	c.Log.WithFields(map[string]any{"path": path, "steps": len(cfg.Steps)}).
		Debug("configuration discovered")
	return nil
}

// extractionPhase builds the step catalogue IR.
type extractionPhase struct{}

func (extractionPhase) Name() string { return "extraction" }

func (extractionPhase) Run(_ context.Context, c *Context) error {
	catalogue, err := model.Extract(c.Config, model.ExtractOptions{
		Signatures: c.Options.Signatures,
		Reporter:   model.TeeReporter{c.Reporter, model.LogReporter{Log: c.Log}},
	})
	if err != nil {
		return err
	}
	c.Catalogue = catalogue
	return nil
}

// runtimeMappingPhase attaches a module assignment to every step. Under
// STRICT validation an unassigned step fails the compilation; under AUTO it
// only yields a warning. Running the phase twice is a no-op: steps that
// already carry a module keep it.
type runtimeMappingPhase struct{}

func (runtimeMappingPhase) Name() string { return "runtime-mapping" }

func (runtimeMappingPhase) Run(_ context.Context, c *Context) error {
	mapping := config.DefaultRuntimeMapping()
	if c.Options.MappingFile != "" {
		loaded, err := config.LoadRuntimeMapping(c.Options.MappingFile)
		if err != nil {
			return err
		}
		mapping = loaded
	}
	c.Mapping = mapping

	strict := mapping.Validation == config.ValidationStrict
	if strict && c.Options.ModuleName == "" {
		return canvaserrors.NewInvalidConfiguration(
			"module.name is required under STRICT validation", nil)
	}

	for i := range c.Catalogue.Steps {
		step := &c.Catalogue.Steps[i]
		if step.Module != "" {
			continue
		}
		module := mapping.ModuleFor(step.Name, step.Synthetic())
		if module == "" {
			if strict {
				return canvaserrors.NewInvalidConfiguration(
					fmt.Sprintf("step %q has no module assignment", step.Name), nil).
					WithContext(map[string]any{"step": step.Name})
			}
			c.Reporter.Report(model.Diagnostic{
				Severity: model.SeverityWarn,
				Step:     step.Name,
				Message:  "no module assignment; step stays unplaced",
			})
			continue
		}
		step.Module = module
	}
	return nil
}

// semanticPhase enforces cross-step invariants on the base order: type
// continuity between adjacent steps and cardinality compatibility.
type semanticPhase struct{}

func (semanticPhase) Name() string { return "semantic-analysis" }

func (semanticPhase) Run(_ context.Context, c *Context) error {
	steps := c.Catalogue.Steps
	for i := 0; i+1 < len(steps); i++ {
		current, next := steps[i], steps[i+1]

		if current.Output != "" && next.Input != "" && current.Output != next.Input {
			return canvaserrors.NewInvalidConfiguration(
				fmt.Sprintf("type mismatch between %q and %q", current.Name, next.Name), nil).
				WithContext(map[string]any{
					"produced": current.Output,
					"consumed": next.Input,
				})
		}

		if current.Cardinality.StreamingOut() && !next.Cardinality.StreamingIn() {
			return canvaserrors.NewInvalidConfiguration(
				fmt.Sprintf("step %q emits a stream that %q does not consume", current.Name, next.Name), nil).
				WithContext(map[string]any{
					"upstream":   string(current.Cardinality),
					"downstream": string(next.Cardinality),
				})
		}
		if next.Cardinality.StreamingIn() && !current.Cardinality.StreamingOut() {
			// The orchestrator batches single items into the collector, so
			// this shape works; it is usually a declaration mistake though.
			c.Reporter.Report(model.Diagnostic{
				Severity: model.SeverityWarn,
				Step:     next.Name,
				Message:  "collects a stream but upstream emits single items",
			})
		}
	}
	return nil
}

// targetPhase decides which artifacts each step needs.
type targetPhase struct{}

func (targetPhase) Name() string { return "target-resolution" }

func (targetPhase) Run(_ context.Context, c *Context) error {
	c.Targets = make(map[string][]Target, len(c.Catalogue.Steps))
	for _, step := range c.Catalogue.Steps {
		targets := []Target{TargetClientStub, TargetOrchestratorWiring}
		if step.Kind == model.KindInternal {
			// Internal steps wrap a user service behind a generated handler;
			// delegated operators are served by their owning process.
			targets = append(targets, TargetServerHandler)
		}
		if step.Transport == model.TransportGRPC {
			targets = append(targets, TargetSchemaFragment)
		}
		c.Targets[step.Name] = targets
	}
	return nil
}

// bindingPhase resolves IR symbols against the descriptor set. Pipelines
// with no gRPC step need no descriptor set; their bindings are synthesized
// from the IR alone.
type bindingPhase struct{}

func (bindingPhase) Name() string { return "binding-construction" }

func (bindingPhase) Run(_ context.Context, c *Context) error {
	needsDescriptors := false
	required := make([]string, 0, len(c.Catalogue.Steps))
	for _, step := range c.Catalogue.Steps {
		if c.HasTarget(step.Name, TargetSchemaFragment) {
			needsDescriptors = true
		}
		required = append(required, step.Name+"Service")
	}

	if !needsDescriptors {
		c.setBindings(synthesizeBindings(c.Config, c.Catalogue))
		return nil
	}

	set, path, err := binding.Locate(binding.LocateOptions{
		File:             c.Options.DescriptorFile,
		Dir:              c.Options.DescriptorDir,
		ModuleDir:        c.Options.ModuleDir,
		RequiredServices: required,
	})
	if err != nil {
		return err
	}
	c.Log.WithFields(map[string]any{"path": path}).Debug("descriptor set located")

	bindings, err := binding.Resolve(c.Catalogue, set)
	if err != nil {
		return err
	}
	c.setBindings(bindings)
	return nil
}

// synthesizeBindings derives renderer-ready bindings from the IR for steps
// that never touch a descriptor set.
func synthesizeBindings(cfg *config.Config, catalogue *model.Catalogue) []binding.Binding {
	bindings := make([]binding.Binding, 0, len(catalogue.Steps))
	for _, step := range catalogue.Steps {
		bindings = append(bindings, binding.Binding{
			Step:            step.Name,
			ProtoPackage:    cfg.BasePackage,
			Service:         step.Name + "Service",
			Method:          "Process",
			InputMessage:    step.SimpleInput(),
			OutputMessage:   step.SimpleOutput(),
			ClientStreaming: step.Cardinality.StreamingIn(),
			ServerStreaming: step.Cardinality.StreamingOut(),
		})
	}
	return bindings
}

// generationPhase expands the order and renders every resolved target.
type generationPhase struct{}

func (generationPhase) Name() string { return "generation" }

func (generationPhase) Run(_ context.Context, c *Context) error {
	generator, err := codegen.NewGenerator(c.Options.Package)
	if err != nil {
		return err
	}

	c.Expanded = expander.Expand(c.Catalogue.Steps, c.Catalogue.EnabledAspects(), expander.Options{
		Catalogue: c.Catalogue,
		Mapping:   c.Mapping,
	})

	for _, step := range c.Catalogue.Steps {
		b, ok := c.Binding(step.Name)
		if !ok {
			return canvaserrors.NewBindingFailure("step has no resolved binding", nil).
				WithContext(map[string]any{"step": step.Name})
		}
		if c.HasTarget(step.Name, TargetServerHandler) {
			if err := c.addArtifact(generator.ServerHandler(step, b)); err != nil {
				return err
			}
		}
		if c.HasTarget(step.Name, TargetClientStub) {
			if err := c.addArtifact(generator.ClientStep(step, b, c.Mapping)); err != nil {
				return err
			}
		}
		if c.HasTarget(step.Name, TargetSchemaFragment) {
			if err := c.addArtifact(generator.SchemaFragment(b)); err != nil {
				return err
			}
		}
	}

	// Synthetic side-effect steps only exist client-side.
	for _, step := range c.Expanded {
		if !step.Synthetic() {
			continue
		}
		b := binding.Binding{
			Step:          step.Name,
			ProtoPackage:  c.Config.BasePackage,
			Service:       step.SimpleOutput() + "SideEffectService",
			Method:        "Process",
			InputMessage:  step.SimpleInput(),
			OutputMessage: step.SimpleOutput(),
		}
		if err := c.addArtifact(generator.ClientStep(step, b, c.Mapping)); err != nil {
			return err
		}
	}

	if err := c.addArtifact(generator.OrchestratorStub(c.Config.AppName, c.Expanded)); err != nil {
		return err
	}

	metadata, err := generator.MetadataFiles(c.Expanded, c.Mapping)
	if err != nil {
		return err
	}
	c.Artifacts = append(c.Artifacts, metadata...)
	return nil
}

func (c *Context) addArtifact(artifact codegen.Artifact, err error) error {
	if err != nil {
		return err
	}
	c.Artifacts = append(c.Artifacts, artifact)
	return nil
}

// infrastructurePhase persists the rendered artifacts under the output
// directory. An empty output directory keeps the run in-memory.
type infrastructurePhase struct{}

func (infrastructurePhase) Name() string { return "infrastructure" }

func (infrastructurePhase) Run(_ context.Context, c *Context) error {
	if c.Options.OutputDir == "" {
		c.Log.Debug("no output directory; skipping artifact writes")
		return nil
	}
	for _, artifact := range c.Artifacts {
		path := filepath.Join(c.Options.OutputDir, filepath.FromSlash(artifact.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return canvaserrors.NewPermanent("create artifact directory", err).
				WithContext(map[string]any{"path": path})
		}
		if err := os.WriteFile(path, []byte(artifact.Content), 0o644); err != nil {
			return canvaserrors.NewPermanent("write artifact", err).
				WithContext(map[string]any{"path": path})
		}
	}
	c.Log.WithFields(map[string]any{"artifacts": len(c.Artifacts)}).
		Info("artifacts written")
	return nil
}
