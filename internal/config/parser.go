package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a pipeline configuration file from disk, validates it,
// and returns the resulting model.
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, canvaserrors.NewInvalidConfiguration("read pipeline configuration", err).
			WithContext(map[string]any{"path": path})
	}
	cfg, err := ParseBytes(data)
	if err != nil {
		var typed *canvaserrors.Error
		if stderrors.As(err, &typed) {
			return nil, typed.WithContext(map[string]any{"path": path})
		}
		return nil, err
	}
	return cfg, nil
}

// ParseBytes decodes and validates an in-memory configuration document.
func ParseBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, canvaserrors.NewInvalidConfiguration("parse pipeline configuration", err).
			WithContext(map[string]any{"line": extractLine(err)})
	}

	if cfg.Transport == "" {
		cfg.Transport = "GRPC"
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig applies struct tags plus the cross-field aspect rules.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return canvaserrors.NewInvalidConfiguration("configuration is nil", nil)
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return canvaserrors.NewInvalidConfiguration(
				fmt.Sprintf("field %s failed rule %q", first.Namespace(), first.Tag()), err)
		}
		return canvaserrors.NewInvalidConfiguration("configuration validation failed", err)
	}

	seen := make(map[string]struct{}, len(cfg.Steps))
	for _, step := range cfg.Steps {
		if _, dup := seen[step.Name]; dup {
			return canvaserrors.NewInvalidConfiguration("duplicate step name", nil).
				WithContext(map[string]any{"step": step.Name})
		}
		seen[step.Name] = struct{}{}
	}

	for _, aspect := range cfg.Aspects {
		if !aspect.Enabled {
			continue
		}
		if strings.EqualFold(aspect.Scope, "STEPS") && len(aspect.TargetSteps) == 0 {
			return canvaserrors.NewInvalidConfiguration(
				"aspect with scope STEPS must declare at least one target step", nil).
				WithContext(map[string]any{"aspect": aspect.Name})
		}
	}

	return nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
