package compiler

import (
	"context"
	"time"

	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Driver runs the compilation phases in strict order against one shared
// context, stopping at the first failing phase.
type Driver struct {
	phases []Phase
}

// NewDriver assembles the standard phase pipeline.
func NewDriver() *Driver {
	return &Driver{
		phases: []Phase{
			discoveryPhase{},
			extractionPhase{},
			runtimeMappingPhase{},
			semanticPhase{},
			targetPhase{},
			bindingPhase{},
			generationPhase{},
			infrastructurePhase{},
		},
	}
}

// Compile executes one compilation run and returns the filled context.
func (d *Driver) Compile(ctx context.Context, opts Options) (*Context, error) {
	c := NewContext(opts)
	for _, phase := range d.phases {
		if err := ctx.Err(); err != nil {
			return c, canvaserrors.NewCancelled("compilation cancelled", err).
				WithContext(map[string]any{"phase": phase.Name()})
		}

		started := time.Now()
		if err := phase.Run(ctx, c); err != nil {
			c.Log.WithFields(map[string]any{"phase": phase.Name()}).
				Error(err, "phase failed")
			return c, err
		}
		c.Log.WithFields(map[string]any{
			"phase":    phase.Name(),
			"duration": time.Since(started).String(),
		}).Debug("phase complete")
	}
	return c, nil
}
