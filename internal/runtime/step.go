package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/canvasmesh/canvas/internal/domain"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Handler applies a one-to-one step to a single item.
type Handler func(ctx context.Context, pctx domain.PipelineContext, value any) (any, error)

// ExpandHandler applies a one-to-many step, returning the produced items in
// emission order.
type ExpandHandler func(ctx context.Context, pctx domain.PipelineContext, value any) ([]any, error)

// CollectHandler applies a many-to-one step to one collected batch.
type CollectHandler func(ctx context.Context, pctx domain.PipelineContext, values []any) (any, error)

// StreamHandler applies a many-to-many step: it consumes the upstream
// channel and emits through the callback until done or failed.
type StreamHandler func(ctx context.Context, pctx domain.PipelineContext, in <-chan any, emit func(any) error) error

// Step is one executable stage of the effective order. Exactly one handler
// field matching the model cardinality must be set.
type Step struct {
	Model model.StepModel

	Apply   Handler
	Expand  ExpandHandler
	Collect CollectHandler
	Stream  StreamHandler

	// Boundary bounds the step's output stream. Zero value normalizes to a
	// 256-slot buffer.
	Boundary Boundary
	// BatchBound overrides the orchestrator batch bound for MANY_ONE
	// collection.
	BatchBound int
	// Timeout bounds each invocation. Zero inherits the orchestrator
	// default.
	Timeout time.Duration

	// serial guards UNSAFE steps: one invocation at a time per instance.
	serial sync.Mutex
}

func (s *Step) validate() error {
	var err error
	switch s.Model.Cardinality {
	case model.OneOne:
		if s.Apply == nil {
			err = canvaserrors.NewInvalidConfiguration("ONE_ONE step needs an Apply handler", nil)
		}
	case model.OneMany:
		if s.Expand == nil {
			err = canvaserrors.NewInvalidConfiguration("ONE_MANY step needs an Expand handler", nil)
		}
	case model.ManyOne:
		if s.Collect == nil {
			err = canvaserrors.NewInvalidConfiguration("MANY_ONE step needs a Collect handler", nil)
		}
	case model.ManyMany:
		if s.Stream == nil {
			err = canvaserrors.NewInvalidConfiguration("MANY_MANY step needs a Stream handler", nil)
		}
	default:
		err = canvaserrors.NewInvalidConfiguration("step has no canonical cardinality", nil)
	}
	if err != nil {
		return err.(*canvaserrors.Error).WithContext(map[string]any{"step": s.Model.Name})
	}
	return nil
}

// lock serializes invocations for UNSAFE steps; SAFE steps run freely.
func (s *Step) lock() func() {
	if s.Model.ThreadSafety != model.SafetyUnsafe {
		return func() {}
	}
	s.serial.Lock()
	return s.serial.Unlock
}
