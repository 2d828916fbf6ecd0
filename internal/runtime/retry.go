package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/canvasmesh/canvas/internal/domain"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Policy bounds the transient-failure retry loop.
type Policy struct {
	MinWait    time.Duration
	MaxBackoff time.Duration
	MaxRetries int
}

const (
	defaultMinWait    = 10 * time.Millisecond
	defaultMaxBackoff = time.Second
	defaultMaxRetries = 3
)

func normalizePolicy(p Policy) Policy {
	if p.MinWait <= 0 {
		p.MinWait = defaultMinWait
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = defaultMaxRetries
	}
	return p
}

// invoke runs one step invocation under the full failure policy: chaos
// injection, per-invocation timeout, classification, and bounded
// exponential retry for transient failures. Permanent and exhausted
// failures are parked unless the run was cancelled.
func (o *Orchestrator) invoke(ctx context.Context, step *Step, pctx domain.PipelineContext, value any, compute func(context.Context) (any, error)) (any, error) {
	marker := ""
	if o.cfg.ChaosEnabled {
		marker = markerOf(value)
	}
	key := attemptKey{DocID: externalID(value), Marker: marker}

	operation := func() (any, error) {
		if marker == MarkerPermanent {
			return nil, backoff.Permanent(canvaserrors.NewPermanent("chaos permanent failure injected", nil))
		}
		if marker != "" {
			if attempt := o.attempts.next(key); attempt <= transientBudget(marker) {
				return nil, canvaserrors.NewTransient("chaos transient failure injected", nil).
					WithContext(map[string]any{"attempt": attempt})
			}
		}
		return o.computeOnce(ctx, step, pctx, value, compute)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.Policy.MinWait
	expo.MaxInterval = o.cfg.Policy.MaxBackoff

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(o.cfg.Policy.MaxRetries)+1))
	if err == nil {
		o.attempts.clear(key)
		return result, nil
	}

	kind := canvaserrors.Classify(err)
	if kind == canvaserrors.KindCancelled {
		return nil, err
	}

	o.park(key, kind, err)
	return nil, err
}

// computeOnce runs the actual step body once, with the per-invocation
// timeout and the cache gate applied, and classifies the outcome for the
// retry loop.
func (o *Orchestrator) computeOnce(ctx context.Context, step *Step, pctx domain.PipelineContext, value any, compute func(context.Context) (any, error)) (any, error) {
	unlock := step.lock()
	defer unlock()

	ictx := ctx
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body := compute
	if o.gate != nil && step.Model.CacheStrategy != "" {
		body = func(cctx context.Context) (any, error) {
			return o.gate.Apply(cctx, value, pctx, step.Model.Output, func(gctx context.Context) (any, error) {
				return compute(gctx)
			})
		}
	}

	result, err := body(ictx)
	if err == nil {
		return result, nil
	}
	return nil, backoffClassified(ctx, err)
}

// backoffClassified decides whether an error re-enters the retry loop.
// Timeouts and cancellations never retry; everything else follows the
// taxonomy classifier.
func backoffClassified(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		timeout := canvaserrors.NewTimeout("invocation deadline exceeded", err)
		if ctx.Err() != nil {
			// The run itself was cancelled, not just this invocation.
			return backoff.Permanent(canvaserrors.NewCancelled("invocation cancelled", err))
		}
		return backoff.Permanent(timeout)
	}
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(canvaserrors.NewCancelled("invocation cancelled", err))
	}
	if canvaserrors.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// park records an exhausted failure and clears the payload's chaos budget.
// Cancelled invocations never reach here.
func (o *Orchestrator) park(key attemptKey, kind canvaserrors.Kind, err error) {
	if o.parking != nil {
		o.parking.Park(key.DocID, string(kind), err.Error())
	}
	o.attempts.clear(key)
}
