package config

import (
	"os"

	"gopkg.in/yaml.v3"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Layout describes how compiled pipelines map onto deployment modules.
type Layout string

const (
	LayoutModular         Layout = "MODULAR"
	LayoutPipelineRuntime Layout = "PIPELINE_RUNTIME"
	LayoutMonolith        Layout = "MONOLITH"
)

// ValidationMode controls how strictly step placement is checked.
type ValidationMode string

const (
	ValidationAuto   ValidationMode = "AUTO"
	ValidationStrict ValidationMode = "STRICT"
)

// RuntimeMapping holds the module placement decisions shared read-only
// between compilation and generation.
type RuntimeMapping struct {
	Enabled    bool              `yaml:"enabled"`
	Layout     Layout            `yaml:"layout,omitempty" validate:"omitempty,oneof=MODULAR PIPELINE_RUNTIME MONOLITH"`
	Validation ValidationMode    `yaml:"validation,omitempty" validate:"omitempty,oneof=AUTO STRICT"`
	Runtimes   map[string]string `yaml:"runtimes,omitempty"`
	Modules    map[string]string `yaml:"modules,omitempty"`
	Defaults   MappingDefaults   `yaml:"defaults,omitempty"`
	Steps      map[string]string `yaml:"steps,omitempty"`
	Synthetics map[string]string `yaml:"synthetics,omitempty"`
}

// MappingDefaults supplies fallback placement when a step has no explicit
// assignment.
type MappingDefaults struct {
	Runtime   string            `yaml:"runtime,omitempty"`
	Module    string            `yaml:"module,omitempty"`
	Synthetic SyntheticDefaults `yaml:"synthetic,omitempty"`
}

// SyntheticDefaults places synthetic side-effect steps.
type SyntheticDefaults struct {
	Module string `yaml:"module,omitempty"`
}

// DefaultRuntimeMapping is the mapping used when no file is present:
// monolith layout, auto validation, everything in one module.
func DefaultRuntimeMapping() *RuntimeMapping {
	return &RuntimeMapping{
		Layout:     LayoutMonolith,
		Validation: ValidationAuto,
	}
}

// LoadRuntimeMapping reads and validates a runtime mapping file.
func LoadRuntimeMapping(path string) (*RuntimeMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, canvaserrors.NewInvalidConfiguration("read runtime mapping", err).
			WithContext(map[string]any{"path": path})
	}
	return ParseRuntimeMapping(data)
}

// ParseRuntimeMapping decodes an in-memory runtime mapping document.
func ParseRuntimeMapping(data []byte) (*RuntimeMapping, error) {
	var mapping RuntimeMapping
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, canvaserrors.NewInvalidConfiguration("parse runtime mapping", err).
			WithContext(map[string]any{"line": extractLine(err)})
	}

	if mapping.Layout == "" {
		mapping.Layout = LayoutMonolith
	}
	if mapping.Validation == "" {
		mapping.Validation = ValidationAuto
	}

	if err := validatorInstance().Struct(&mapping); err != nil {
		return nil, canvaserrors.NewInvalidConfiguration("runtime mapping validation failed", err)
	}

	if mapping.Validation == ValidationStrict {
		for step, module := range mapping.Steps {
			if _, ok := mapping.Modules[module]; !ok {
				return nil, canvaserrors.NewInvalidConfiguration(
					"step assigned to undeclared module", nil).
					WithContext(map[string]any{"step": step, "module": module})
			}
		}
	}

	return &mapping, nil
}

// ModuleFor resolves the module placement for a named step. Synthetic steps
// consult the synthetic table and synthetic default first.
func (m *RuntimeMapping) ModuleFor(step string, synthetic bool) string {
	if m == nil {
		return ""
	}
	if synthetic {
		if module, ok := m.Synthetics[step]; ok {
			return module
		}
		if m.Defaults.Synthetic.Module != "" {
			return m.Defaults.Synthetic.Module
		}
	}
	if module, ok := m.Steps[step]; ok {
		return module
	}
	return m.Defaults.Module
}

// RuntimeFor resolves the runtime hosting a module.
func (m *RuntimeMapping) RuntimeFor(module string) string {
	if m == nil {
		return ""
	}
	if runtime, ok := m.Modules[module]; ok {
		return runtime
	}
	return m.Defaults.Runtime
}
