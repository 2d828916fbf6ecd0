package model

import (
	"github.com/canvasmesh/canvas/internal/config"
)

// AspectScope controls which steps an aspect applies to.
type AspectScope string

const (
	ScopeGlobal AspectScope = "GLOBAL"
	ScopeSteps  AspectScope = "STEPS"
)

// AspectPosition places the synthetic step relative to the matched base
// step.
type AspectPosition string

const (
	BeforeStep AspectPosition = "BEFORE_STEP"
	AfterStep  AspectPosition = "AFTER_STEP"
)

// Aspect is a declarative cross-cutting concern. Aspects never execute;
// they cause synthetic side-effect client steps to exist in the expanded
// order.
type Aspect struct {
	Name        string
	Enabled     bool
	Scope       AspectScope
	Position    AspectPosition
	Order       int
	TargetSteps []string
	Config      map[string]any

	targets map[string]struct{}
}

// NewAspect builds an aspect from its raw configuration.
func NewAspect(raw config.AspectConfig) Aspect {
	a := Aspect{
		Name:        raw.Name,
		Enabled:     raw.Enabled,
		Scope:       AspectScope(raw.Scope),
		Position:    AspectPosition(raw.Position),
		Order:       raw.Order,
		TargetSteps: append([]string(nil), raw.TargetSteps...),
		Config:      raw.Config,
	}
	if a.Scope == "" {
		a.Scope = ScopeGlobal
	}
	if a.Position == "" {
		a.Position = AfterStep
	}
	a.targets = make(map[string]struct{}, len(a.TargetSteps))
	for _, target := range a.TargetSteps {
		a.targets[config.NormalizeToken(target)] = struct{}{}
	}
	return a
}

// Matches reports whether the aspect applies to the named base step. GLOBAL
// aspects match every step; STEPS aspects match on normalised tokens.
func (a Aspect) Matches(stepName string) bool {
	if !a.Enabled {
		return false
	}
	if a.Scope == ScopeGlobal {
		return true
	}
	_, ok := a.targets[config.NormalizeToken(stepName)]
	return ok
}
