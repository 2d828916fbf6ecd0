package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/canvasmesh/canvas/internal/domain"
	"github.com/canvasmesh/canvas/internal/guard"
	"github.com/canvasmesh/canvas/internal/logger"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// Sink is the downstream ingest endpoint. Accept must return an error when
// the checkpoint was not taken; the bridge never retries a failed item.
type Sink interface {
	Accept(ctx context.Context, cp domain.Checkpoint) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, cp domain.Checkpoint) error

func (f SinkFunc) Accept(ctx context.Context, cp domain.Checkpoint) error {
	return f(ctx, cp)
}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Forwarded  uint64
	Duplicates uint64
	Failures   uint64
	Ignored    uint64
}

// Options tune one bridge instance.
type Options struct {
	// DedupCapacity bounds the idempotency window. Defaults to 4096.
	DedupCapacity int
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit to the downstream. Defaults to 5.
	BreakerThreshold uint32
	// BreakerCooldown is how long the circuit stays open before probing the
	// downstream again. Defaults to one second.
	BreakerCooldown time.Duration

	Log *logger.Logger
}

// Bridge forwards one pipeline's checkpoint stream into another pipeline's
// ingest endpoint: idempotent per checkpoint key, at-most-once under
// downstream failure, and resumable once the downstream recovers.
type Bridge struct {
	sink    Sink
	dedup   *guard.Guard
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger

	forwarded  atomic.Uint64
	duplicates atomic.Uint64
	failures   atomic.Uint64
	ignored    atomic.Uint64
}

// New builds a bridge against the downstream sink.
func New(sink Sink, opts Options) (*Bridge, error) {
	if sink == nil {
		return nil, canvaserrors.NewInvalidInput("bridge sink is required", nil)
	}
	if opts.DedupCapacity <= 0 {
		opts.DedupCapacity = 4096
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Second
	}

	dedup, err := guard.New(opts.DedupCapacity)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bridge-downstream",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
	})

	return &Bridge{
		sink:    sink,
		dedup:   dedup,
		breaker: breaker,
		log:     opts.Log.WithComponent("bridge"),
	}, nil
}

// Forward consumes the envelope stream until it closes or the context is
// cancelled. Envelopes that are not checkpoints are counted and skipped
// without terminating the stream.
func (b *Bridge) Forward(ctx context.Context, in <-chan any) error {
	if in == nil {
		return canvaserrors.NewInvalidInput("envelope stream is required", nil)
	}
	for {
		select {
		case envelope, ok := <-in:
			if !ok {
				return nil
			}
			b.handle(ctx, envelope)
		case <-ctx.Done():
			return canvaserrors.NewCancelled("bridge cancelled", ctx.Err())
		}
	}
}

// Publish forwards a single envelope.
func (b *Bridge) Publish(ctx context.Context, envelope any) {
	b.handle(ctx, envelope)
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded:  b.forwarded.Load(),
		Duplicates: b.duplicates.Load(),
		Failures:   b.failures.Load(),
		Ignored:    b.ignored.Load(),
	}
}

func (b *Bridge) handle(ctx context.Context, envelope any) {
	cp, ok := asCheckpoint(envelope)
	if !ok {
		b.ignored.Add(1)
		return
	}

	fresh, err := b.dedup.MarkIfNew(cp.Key())
	if err != nil {
		b.ignored.Add(1)
		b.log.Warn("checkpoint without usable key ignored")
		return
	}
	if !fresh {
		b.duplicates.Add(1)
		return
	}

	_, err = b.breaker.Execute(func() (any, error) {
		return nil, b.sink.Accept(ctx, cp)
	})
	if err != nil {
		// At-most-once: the item is dropped, the counter records the loss.
		b.failures.Add(1)
		b.log.WithFields(map[string]any{"orderId": cp.OrderID}).
			Error(err, "downstream ingest failed")
		return
	}
	b.forwarded.Add(1)
}

func asCheckpoint(envelope any) (domain.Checkpoint, bool) {
	switch v := envelope.(type) {
	case domain.Checkpoint:
		return v, true
	case *domain.Checkpoint:
		if v != nil {
			return *v, true
		}
	}
	return domain.Checkpoint{}, false
}
