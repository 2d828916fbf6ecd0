package compiler

import (
	"github.com/canvasmesh/canvas/internal/binding"
	"github.com/canvasmesh/canvas/internal/codegen"
	"github.com/canvasmesh/canvas/internal/config"
	"github.com/canvasmesh/canvas/internal/logger"
	"github.com/canvasmesh/canvas/internal/model"
)

// Target names one generation product a step requires.
type Target string

const (
	TargetServerHandler      Target = "SERVER_HANDLER"
	TargetClientStub         Target = "CLIENT_STUB"
	TargetOrchestratorWiring Target = "ORCHESTRATOR_WIRING"
	TargetSchemaFragment     Target = "SCHEMA_FRAGMENT"
)

// Option keys accepted by the compiler front-end.
const (
	OptionDescriptorFile = "descriptor.file"
	OptionDescriptorPath = "descriptor.path"
	OptionModuleName     = "module.name"
)

// Options configure one compilation run.
type Options struct {
	// ModuleDir is the module root scanned for configuration and
	// descriptor sets.
	ModuleDir string
	// OutputDir receives the generated artifacts. Empty disables the
	// infrastructure phase writes.
	OutputDir string
	// ConfigFile short-circuits discovery when set.
	ConfigFile string
	// MappingFile points at the runtime mapping document. Empty falls back
	// to the default monolith mapping.
	MappingFile string
	// DescriptorFile and DescriptorDir steer descriptor set location.
	DescriptorFile string
	DescriptorDir  string
	// ModuleName is this module's identity. Required under STRICT
	// validation.
	ModuleName string
	// Package names the generated Go package.
	Package string
	// Signatures supplies operator type pairs for delegated steps whose
	// configuration carries no type hints.
	Signatures map[string]model.TypePair

	Log *logger.Logger
}

// ApplyOption sets one named front-end option.
func (o *Options) ApplyOption(key, value string) bool {
	switch key {
	case OptionDescriptorFile:
		o.DescriptorFile = value
	case OptionDescriptorPath:
		o.DescriptorDir = value
	case OptionModuleName:
		o.ModuleName = value
	default:
		return false
	}
	return true
}

// Context is the shared state the phases read and write. Each phase fills
// its own fields; later phases rely on earlier ones having run.
type Context struct {
	Options Options

	ConfigPath string
	Config     *config.Config
	Mapping    *config.RuntimeMapping
	Catalogue  *model.Catalogue

	Bindings      []binding.Binding
	bindingByStep map[string]binding.Binding

	Targets  map[string][]Target
	Expanded []model.StepModel

	Artifacts []codegen.Artifact
	Reporter  *model.CollectingReporter
	Log       *logger.Logger
}

// NewContext seeds a compilation context from options.
func NewContext(opts Options) *Context {
	return &Context{
		Options:  opts,
		Reporter: model.NewCollectingReporter(),
		Log:      opts.Log.WithComponent("compiler"),
	}
}

// Binding returns the resolved binding for a step name.
func (c *Context) Binding(step string) (binding.Binding, bool) {
	b, ok := c.bindingByStep[step]
	return b, ok
}

func (c *Context) setBindings(bindings []binding.Binding) {
	c.Bindings = bindings
	c.bindingByStep = make(map[string]binding.Binding, len(bindings))
	for _, b := range bindings {
		c.bindingByStep[b.Step] = b
	}
}

// HasTarget reports whether a step was resolved to produce the target.
func (c *Context) HasTarget(step string, target Target) bool {
	for _, t := range c.Targets[step] {
		if t == target {
			return true
		}
	}
	return false
}
