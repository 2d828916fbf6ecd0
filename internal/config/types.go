package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the full pipeline configuration document.
type Config struct {
	AppName     string         `yaml:"appName" validate:"required,min=1,max=100"`
	BasePackage string         `yaml:"basePackage" validate:"required,qualified_name"`
	Transport   string         `yaml:"transport,omitempty" validate:"omitempty,oneof=GRPC REST LOCAL FUNCTION"`
	Platform    string         `yaml:"platform,omitempty"`
	Steps       []StepConfig   `yaml:"steps" validate:"required,min=1,dive"`
	Aspects     []AspectConfig `yaml:"aspects,omitempty" validate:"omitempty,dive"`
}

// StepConfig is the raw declaration of a single step before IR extraction.
// Legacy alias keys are folded in during decoding: `delegate` is an alias of
// `operator` and `externalMapper` of `operatorMapper`. Alias collisions are
// preserved so extraction can reject them.
type StepConfig struct {
	Name           string `yaml:"name" validate:"required,step_name"`
	Service        string `yaml:"service,omitempty" validate:"omitempty,qualified_name"`
	Operator       string `yaml:"operator,omitempty" validate:"omitempty,qualified_name"`
	Input          string `yaml:"input,omitempty" validate:"omitempty,qualified_name"`
	Output         string `yaml:"output,omitempty" validate:"omitempty,qualified_name"`
	Cardinality    string `yaml:"cardinality,omitempty"`
	OperatorMapper string `yaml:"operatorMapper,omitempty" validate:"omitempty,qualified_name"`
	MapperFallback string `yaml:"mapperFallback,omitempty" validate:"omitempty,oneof=NONE JACKSON"`
	Transport      string `yaml:"transport,omitempty" validate:"omitempty,oneof=GRPC REST LOCAL FUNCTION"`
	CacheStrategy  string `yaml:"cacheStrategy,omitempty"`
	Ordering       string `yaml:"ordering,omitempty" validate:"omitempty,oneof=STRICT STRICT_ADVISED RELAXED"`
	ThreadSafety   string `yaml:"threadSafety,omitempty" validate:"omitempty,oneof=SAFE UNSAFE"`
	Parallelism    int    `yaml:"parallelism,omitempty" validate:"omitempty,min=1,max=1024"`

	// BothOperatorKeys is set when a document declares both `operator` and
	// `delegate`; extraction rejects such steps.
	BothOperatorKeys bool `yaml:"-"`
	// UnknownKeys lists document keys outside the accepted set. They warn
	// but never fail parsing.
	UnknownKeys []string `yaml:"-"`
}

var stepKnownKeys = map[string]struct{}{
	"name": {}, "service": {}, "operator": {}, "delegate": {},
	"input": {}, "output": {}, "cardinality": {},
	"operatorMapper": {}, "externalMapper": {}, "mapperFallback": {},
	"transport": {}, "cacheStrategy": {}, "ordering": {},
	"threadSafety": {}, "parallelism": {},
}

// UnmarshalYAML folds legacy alias keys and records unknown ones.
func (s *StepConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawStep StepConfig
	var tmp rawStep
	if err := value.Decode(&tmp); err != nil {
		return err
	}

	var aliases struct {
		Delegate       string `yaml:"delegate"`
		ExternalMapper string `yaml:"externalMapper"`
	}
	if err := value.Decode(&aliases); err != nil {
		return err
	}

	*s = StepConfig(tmp)
	if aliases.Delegate != "" {
		if s.Operator != "" {
			s.BothOperatorKeys = true
		} else {
			s.Operator = aliases.Delegate
		}
	}
	if aliases.ExternalMapper != "" && s.OperatorMapper == "" {
		s.OperatorMapper = aliases.ExternalMapper
	}
	s.UnknownKeys = unknownKeys(value, stepKnownKeys)
	return nil
}

// AspectConfig declares a cross-cutting concern that causes synthetic
// side-effect steps to exist in the expanded order.
type AspectConfig struct {
	Name        string         `yaml:"name" validate:"required,step_name"`
	Enabled     bool           `yaml:"enabled"`
	Scope       string         `yaml:"scope,omitempty" validate:"omitempty,oneof=GLOBAL STEPS"`
	Position    string         `yaml:"position,omitempty" validate:"omitempty,oneof=BEFORE_STEP AFTER_STEP"`
	Order       int            `yaml:"order,omitempty"`
	TargetSteps []string       `yaml:"targetSteps,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
}

// StepMap builds a lookup table for step declarations by name.
func StepMap(steps []StepConfig) map[string]StepConfig {
	out := make(map[string]StepConfig, len(steps))
	for _, step := range steps {
		out[step.Name] = step
	}
	return out
}

func unknownKeys(node *yaml.Node, known map[string]struct{}) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// NormalizeToken lowercases a step reference and strips separators so that
// target lists match declared names regardless of casing style.
func NormalizeToken(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '-' || r == '_' || r == ' ':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
