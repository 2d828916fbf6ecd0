package model

// Catalogue is the ordered set of extracted step models plus lookup tables.
// It is owned by the compilation context and read-only after extraction.
type Catalogue struct {
	Steps   []StepModel
	Aspects []Aspect

	byName map[string]int
}

// NewCatalogue indexes the supplied steps. The declared order is preserved;
// it is the base linear execution order before aspect expansion.
func NewCatalogue(steps []StepModel, aspects []Aspect) *Catalogue {
	c := &Catalogue{
		Steps:   steps,
		Aspects: aspects,
		byName:  make(map[string]int, len(steps)),
	}
	for i, step := range steps {
		c.byName[step.Name] = i
	}
	return c
}

// Step returns the model for a declared step name.
func (c *Catalogue) Step(name string) (StepModel, bool) {
	if c == nil {
		return StepModel{}, false
	}
	idx, ok := c.byName[name]
	if !ok {
		return StepModel{}, false
	}
	return c.Steps[idx], true
}

// TypeNames returns the distinct domain type names referenced by the
// catalogue, inputs and outputs alike. Used for longest-prefix type
// resolution during order expansion.
func (c *Catalogue) TypeNames() []string {
	seen := make(map[string]struct{}, len(c.Steps)*2)
	var names []string
	for _, step := range c.Steps {
		for _, name := range []string{step.Input, step.Output} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// EnabledAspects returns the aspects that participate in order expansion.
func (c *Catalogue) EnabledAspects() []Aspect {
	var out []Aspect
	for _, aspect := range c.Aspects {
		if aspect.Enabled {
			out = append(out, aspect)
		}
	}
	return out
}
