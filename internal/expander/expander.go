package expander

import (
	"sort"
	"strings"

	"github.com/canvasmesh/canvas/internal/config"
	"github.com/canvasmesh/canvas/internal/model"
)

// Options tune order expansion.
type Options struct {
	// Catalogue backs the longest-prefix type fallback for steps whose IR
	// carries no type information.
	Catalogue *model.Catalogue
	// Mapping places synthetic steps onto modules.
	Mapping *config.RuntimeMapping
}

// Expand transforms the base linear step order into the effective execution
// order by inserting synthetic side-effect client steps derived from the
// enabled aspects. The transformation is pure and idempotent: expanding an
// already expanded order returns it unchanged.
func Expand(base []model.StepModel, aspects []model.Aspect, opts Options) []model.StepModel {
	if containsSynthetics(base) {
		out := make([]model.StepModel, len(base))
		copy(out, base)
		return out
	}

	before, after := partition(aspects)

	// Dedup key is (aspectName, typeName): the same synthetic is never
	// inserted twice across the whole expanded order.
	inserted := make(map[[2]string]struct{})

	var out []model.StepModel
	for _, step := range base {
		for _, aspect := range before {
			if aspect.Matches(step.Name) {
				if synthetic, ok := buildSynthetic(aspect, step, model.BeforeStep, opts, inserted); ok {
					out = append(out, synthetic)
				}
			}
		}
		out = append(out, step)
		for _, aspect := range after {
			if aspect.Matches(step.Name) {
				if synthetic, ok := buildSynthetic(aspect, step, model.AfterStep, opts, inserted); ok {
					out = append(out, synthetic)
				}
			}
		}
	}
	return out
}

func partition(aspects []model.Aspect) (before, after []model.Aspect) {
	for _, aspect := range aspects {
		if !aspect.Enabled {
			continue
		}
		if aspect.Position == model.BeforeStep {
			before = append(before, aspect)
		} else {
			after = append(after, aspect)
		}
	}
	sort.SliceStable(before, func(i, j int) bool { return before[i].Order < before[j].Order })
	sort.SliceStable(after, func(i, j int) bool { return after[i].Order < after[j].Order })
	return before, after
}

func buildSynthetic(aspect model.Aspect, step model.StepModel, position model.AspectPosition, opts Options, inserted map[[2]string]struct{}) (model.StepModel, bool) {
	typeName := aspectType(step, position, opts.Catalogue)
	if typeName == "" {
		return model.StepModel{}, false
	}

	key := [2]string{aspect.Name, typeName}
	if _, dup := inserted[key]; dup {
		return model.StepModel{}, false
	}
	inserted[key] = struct{}{}

	name := SyntheticName(aspect.Name, typeName, step.Transport)
	return model.StepModel{
		Name:        name,
		Input:       typeName,
		Output:      typeName,
		Cardinality: model.OneOne,
		Kind:        model.KindInternal,
		Role:        model.RoleSynthetic,
		Transport:   step.Transport,
		Ordering:    model.OrderingRelaxed,
		ThreadSafety: model.SafetySafe,
		Module:      opts.Mapping.ModuleFor(name, true),
	}, true
}

// aspectType picks the domain type the aspect operates on: the step input
// for BEFORE, the step output for AFTER. When the IR carries no type the
// catalogue is consulted by longest-prefix match on the step name.
func aspectType(step model.StepModel, position model.AspectPosition, catalogue *model.Catalogue) string {
	typeName := step.Output
	if position == model.BeforeStep {
		typeName = step.Input
	}
	if typeName != "" {
		return typeName
	}
	return longestPrefixType(step.Name, position, catalogue)
}

func longestPrefixType(stepName string, position model.AspectPosition, catalogue *model.Catalogue) string {
	if catalogue == nil {
		return ""
	}
	var best model.StepModel
	bestLen := -1
	for _, candidate := range catalogue.Steps {
		if strings.HasPrefix(stepName, candidate.Name) && len(candidate.Name) > bestLen {
			best = candidate
			bestLen = len(candidate.Name)
		}
	}
	if bestLen < 0 {
		return ""
	}
	if position == model.BeforeStep {
		return best.Input
	}
	return best.Output
}

// SyntheticName builds the deterministic synthetic client-step class name.
func SyntheticName(aspectName, typeName string, transport model.Transport) string {
	simple := typeName
	if idx := strings.LastIndex(simple, "."); idx >= 0 {
		simple = simple[idx+1:]
	}
	simple = strings.TrimSuffix(strings.TrimSuffix(simple, "Dto"), "DTO")
	return pascal(aspectName) + simple + "SideEffect" + transport.ClientSuffix()
}

func containsSynthetics(steps []model.StepModel) bool {
	for _, step := range steps {
		if step.Synthetic() || strings.Contains(step.Name, "SideEffect") {
			return true
		}
	}
	return false
}

func pascal(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
