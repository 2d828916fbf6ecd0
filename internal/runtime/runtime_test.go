package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/canvasmesh/canvas/internal/cache"
	"github.com/canvasmesh/canvas/internal/domain"
	"github.com/canvasmesh/canvas/internal/guard"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

func fastPolicy() Policy {
	return Policy{MinWait: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxRetries: 3}
}

func oneOneStep(name string, apply Handler) *Step {
	return &Step{
		Model: model.StepModel{Name: name, Cardinality: model.OneOne},
		Apply: apply,
	}
}

func collectItems(t *testing.T, stream <-chan Item) []Item {
	t.Helper()
	var items []Item
	for item := range stream {
		items = append(items, item)
	}
	return items
}

func TestNormalizeBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Boundary
		want Boundary
	}{
		{"zero value", Boundary{}, Boundary{Strategy: StrategyBuffer, Capacity: 256}},
		{"unknown strategy", Boundary{Strategy: "WINDOW", Capacity: 8}, Boundary{Strategy: StrategyBuffer, Capacity: 8}},
		{"negative capacity", Boundary{Strategy: StrategyDrop, Capacity: -1}, Boundary{Strategy: StrategyDrop, Capacity: 256}},
		{"kept as-is", Boundary{Strategy: StrategyDrop, Capacity: 4}, Boundary{Strategy: StrategyDrop, Capacity: 4}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeBoundary(tc.in))
		})
	}
}

func TestRunSingleOneOnePipeline(t *testing.T) {
	t.Parallel()

	upper := oneOneStep("Upper", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return v.(string) + "!", nil
	})
	stamp := oneOneStep("Stamp", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return "out:" + v.(string), nil
	})

	o, err := New([]*Step{upper, stamp}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	stream, err := o.Run(context.Background(), "doc")
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 1, "ONE_ONE emits exactly one output per input")
	require.NoError(t, items[0].Err)
	require.Equal(t, "out:doc!", items[0].Value)
}

func TestRunRejectsNilInput(t *testing.T) {
	t.Parallel()

	o, err := New([]*Step{oneOneStep("Noop", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return v, nil
	})}, Config{}, Dependencies{})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), nil)
	require.Equal(t, canvaserrors.KindInvalidInput, canvaserrors.Classify(err))
}

func TestExpansionObservedDownstream(t *testing.T) {
	t.Parallel()

	tokenize := &Step{
		Model: model.StepModel{Name: "Tokenize", Cardinality: model.OneMany},
		Expand: func(_ context.Context, _ domain.PipelineContext, v any) ([]any, error) {
			doc := v.(domain.Document)
			return []any{
				domain.TokenBatch{DocID: doc.DocID, BatchNo: 1, Tokens: []string{"a"}},
				domain.TokenBatch{DocID: doc.DocID, BatchNo: 2, Tokens: []string{"b"}},
				domain.TokenBatch{DocID: doc.DocID, BatchNo: 3, Tokens: []string{"c"}},
			}, nil
		},
	}

	var observed int64
	sideEffect := oneOneStep("PersistenceTokenBatchSideEffectGrpcClientStep",
		func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
			atomic.AddInt64(&observed, 1)
			return v, nil
		})

	o, err := New([]*Step{tokenize, sideEffect}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	stream, err := o.Run(context.Background(), domain.Document{DocID: "d1", Body: "x"})
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 3)
	require.EqualValues(t, 3, observed, "every emitted batch passes the side-effect step once")
}

func TestManyOneBatches(t *testing.T) {
	t.Parallel()

	aggregate := &Step{
		Model:      model.StepModel{Name: "Aggregate", Cardinality: model.ManyOne},
		BatchBound: 2,
		Collect: func(_ context.Context, _ domain.PipelineContext, values []any) (any, error) {
			return len(values), nil
		},
	}

	o, err := New([]*Step{aggregate}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	in := make(chan any, 5)
	for i := 0; i < 5; i++ {
		in <- i
	}
	close(in)

	stream, err := o.Ingest(context.Background(), in)
	require.NoError(t, err)

	var sizes []any
	for item := range stream {
		require.NoError(t, item.Err)
		sizes = append(sizes, item.Value)
	}
	require.Equal(t, []any{2, 2, 1}, sizes, "full batches plus the final partial batch")
}

func TestManyOneZeroItems(t *testing.T) {
	t.Parallel()

	aggregate := &Step{
		Model: model.StepModel{Name: "Aggregate", Cardinality: model.ManyOne},
		Collect: func(_ context.Context, _ domain.PipelineContext, values []any) (any, error) {
			return len(values), nil
		},
	}

	o, err := New([]*Step{aggregate}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	in := make(chan any)
	close(in)

	stream, err := o.Ingest(context.Background(), in)
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 1)
	require.Error(t, items[0].Err)
	require.Equal(t, canvaserrors.KindInvalidInput, canvaserrors.Classify(items[0].Err))
	require.Contains(t, items[0].Err.Error(), "token batches are required")
}

func TestManyManyPassesStreamThrough(t *testing.T) {
	t.Parallel()

	relay := &Step{
		Model: model.StepModel{Name: "Relay", Cardinality: model.ManyMany},
		Stream: func(_ context.Context, _ domain.PipelineContext, in <-chan any, emit func(any) error) error {
			for v := range in {
				if err := emit(fmt.Sprintf("seen:%v", v)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	o, err := New([]*Step{relay}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	in := make(chan any, 3)
	in <- 1
	in <- 2
	in <- 3
	close(in)

	stream, err := o.Ingest(context.Background(), in)
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 3)
	require.Equal(t, "seen:1", items[0].Value)
}

func TestSubscribeReceivesCheckpoints(t *testing.T) {
	t.Parallel()

	checkpointer := oneOneStep("Checkpoint", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return domain.Checkpoint{OrderID: v.(string), CustomerID: "c1"}, nil
	})

	o, err := New([]*Step{checkpointer}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	checkpoints, cancel := o.Subscribe()
	defer cancel()

	stream, err := o.Run(context.Background(), "order-1")
	require.NoError(t, err)
	collectItems(t, stream)

	select {
	case cp := <-checkpoints:
		require.Equal(t, "order-1", cp.OrderID)
	case <-time.After(time.Second):
		t.Fatal("no checkpoint observed")
	}
}

func TestSubscribeCancelIdempotent(t *testing.T) {
	t.Parallel()

	o, err := New([]*Step{oneOneStep("Noop", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return v, nil
	})}, Config{}, Dependencies{})
	require.NoError(t, err)

	_, cancel := o.Subscribe()
	cancel()
	require.NotPanics(t, cancel)
}

func TestChaosTransientRecovery(t *testing.T) {
	t.Parallel()

	var invocations int64
	step := oneOneStep("Flaky", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		atomic.AddInt64(&invocations, 1)
		return v, nil
	})

	parking := guard.NewParkingLot(16, nil)
	o, err := New([]*Step{step}, Config{
		Policy:       Policy{MinWait: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxRetries: 3},
		ChaosEnabled: true,
	}, Dependencies{Parking: parking})
	require.NoError(t, err)

	doc := domain.Document{DocID: "d1", Body: "payload __FAIL_TRANSIENT_3__"}
	stream, err := o.Run(context.Background(), doc)
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 1)
	require.NoError(t, items[0].Err, "fourth attempt succeeds")
	require.EqualValues(t, 1, invocations, "the step body only runs after chaos is exhausted")
	require.Empty(t, parking.Entries())

	key := attemptKey{DocID: "d1", Marker: "__FAIL_TRANSIENT_3__"}
	require.Zero(t, o.attempts.count(key), "counter cleared on success")
}

func TestChaosTransientExhaustedParks(t *testing.T) {
	t.Parallel()

	step := oneOneStep("Flaky", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return v, nil
	})

	parking := guard.NewParkingLot(16, nil)
	o, err := New([]*Step{step}, Config{
		Policy:       Policy{MinWait: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxRetries: 2},
		ChaosEnabled: true,
	}, Dependencies{Parking: parking})
	require.NoError(t, err)

	doc := domain.Document{DocID: "d1", Body: "payload __FAIL_TRANSIENT_3__"}
	stream, err := o.Run(context.Background(), doc)
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Len(t, items, 1)
	require.Error(t, items[0].Err)

	parked := parking.Entries()
	require.Len(t, parked, 1)
	require.Equal(t, "d1", parked[0].ExternalID)
	require.Equal(t, string(canvaserrors.KindTransient), parked[0].ErrorKind)

	key := attemptKey{DocID: "d1", Marker: "__FAIL_TRANSIENT_3__"}
	require.Zero(t, o.attempts.count(key), "counter cleared on permanent parking")
}

func TestChaosPermanentParksWithoutRetry(t *testing.T) {
	t.Parallel()

	var invocations int64
	step := oneOneStep("Doomed", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		atomic.AddInt64(&invocations, 1)
		return v, nil
	})

	parking := guard.NewParkingLot(16, nil)
	o, err := New([]*Step{step}, Config{Policy: fastPolicy(), ChaosEnabled: true},
		Dependencies{Parking: parking})
	require.NoError(t, err)

	stream, err := o.Run(context.Background(), domain.Document{DocID: "d2", Body: MarkerPermanent})
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Error(t, items[0].Err)
	require.Equal(t, canvaserrors.KindPermanent, canvaserrors.Classify(items[0].Err))
	require.Zero(t, invocations)
	require.Len(t, parking.Find("d2"), 1)
}

func TestChaosMarkersIgnoredWhenDisabled(t *testing.T) {
	t.Parallel()

	step := oneOneStep("Safe", func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
		return v, nil
	})

	o, err := New([]*Step{step}, Config{Policy: fastPolicy()}, Dependencies{})
	require.NoError(t, err)

	stream, err := o.Run(context.Background(), domain.Document{DocID: "d3", Body: MarkerPermanent})
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.NoError(t, items[0].Err, "markers from untrusted inputs are inert")
}

func TestTimeoutIsPermanentNoRetry(t *testing.T) {
	t.Parallel()

	var invocations int64
	slow := &Step{
		Model:   model.StepModel{Name: "Slow", Cardinality: model.OneOne},
		Timeout: 10 * time.Millisecond,
		Apply: func(ctx context.Context, _ domain.PipelineContext, v any) (any, error) {
			atomic.AddInt64(&invocations, 1)
			select {
			case <-time.After(time.Second):
				return v, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	parking := guard.NewParkingLot(16, nil)
	o, err := New([]*Step{slow}, Config{Policy: fastPolicy()}, Dependencies{Parking: parking})
	require.NoError(t, err)

	stream, err := o.Run(context.Background(), domain.Document{DocID: "d4", Body: "x"})
	require.NoError(t, err)

	items := collectItems(t, stream)
	require.Error(t, items[0].Err)
	require.Equal(t, canvaserrors.KindTimeout, canvaserrors.Classify(items[0].Err))
	require.EqualValues(t, 1, invocations, "timeouts never retry")

	parked := parking.Find("d4")
	require.Len(t, parked, 1)
	require.Equal(t, string(canvaserrors.KindTimeout), parked[0].ErrorKind)
}

func TestCancellationSkipsParking(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	blocked := &Step{
		Model: model.StepModel{Name: "Blocked", Cardinality: model.OneOne},
		Apply: func(ctx context.Context, _ domain.PipelineContext, v any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	parking := guard.NewParkingLot(16, nil)
	o, err := New([]*Step{blocked}, Config{Policy: fastPolicy()}, Dependencies{Parking: parking})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := o.Run(ctx, domain.Document{DocID: "d5", Body: "x"})
	require.NoError(t, err)

	<-started
	cancel()

	for item := range stream {
		if item.Err != nil {
			require.Equal(t, canvaserrors.KindCancelled, canvaserrors.Classify(item.Err))
		}
	}
	require.Empty(t, parking.Entries(), "cancellation writes no parking-lot state")
}

func TestUnsafeStepSerialized(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight int64
	var mu sync.Mutex
	unsafe := &Step{
		Model: model.StepModel{
			Name:         "Fragile",
			Cardinality:  model.OneOne,
			ThreadSafety: model.SafetyUnsafe,
			Ordering:     model.OrderingRelaxed,
			Parallelism:  8,
		},
		Apply: func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
			current := atomic.AddInt64(&inFlight, 1)
			mu.Lock()
			if current > maxInFlight {
				maxInFlight = current
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return v, nil
		},
	}

	o, err := New([]*Step{unsafe}, Config{Policy: fastPolicy(), Parallelism: 8}, Dependencies{})
	require.NoError(t, err)

	in := make(chan any, 10)
	for i := 0; i < 10; i++ {
		in <- i
	}
	close(in)

	stream, err := o.Ingest(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, collectItems(t, stream), 10)

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 1, maxInFlight, "UNSAFE steps never run concurrently")
}

func TestCacheGateShortCircuitsSecondRun(t *testing.T) {
	t.Parallel()

	store, err := cache.NewStore(32, nil)
	require.NoError(t, err)
	gate := &cache.Gate{
		Registry: cache.NewRegistry(cache.ContentHashStrategy{Target: "com.acme.model.TokenBatch", Prio: 10}),
		Store:    store,
	}

	var computed int64
	cached := &Step{
		Model: model.StepModel{
			Name:          "Tokenize",
			Cardinality:   model.OneOne,
			Output:        "com.acme.model.TokenBatch",
			CacheStrategy: "content-hash",
		},
		Apply: func(_ context.Context, _ domain.PipelineContext, v any) (any, error) {
			atomic.AddInt64(&computed, 1)
			return domain.TokenBatch{DocID: v.(domain.Document).DocID}, nil
		},
	}

	o, err := New([]*Step{cached}, Config{
		Policy:      fastPolicy(),
		BaseContext: domain.NewPipelineContext(domain.PolicyPrefer),
	}, Dependencies{Gate: gate})
	require.NoError(t, err)

	doc := domain.Document{DocID: "d6", Body: "stable body"}
	for i := 0; i < 2; i++ {
		stream, err := o.Run(context.Background(), doc)
		require.NoError(t, err)
		items := collectItems(t, stream)
		require.Len(t, items, 1)
		require.NoError(t, items[0].Err)
	}
	require.EqualValues(t, 1, computed, "second run is served from cache")
}

func TestDropBoundaryDiscardsNewest(t *testing.T) {
	t.Parallel()

	b := NormalizeBoundary(Boundary{Strategy: StrategyDrop, Capacity: 1})
	out := make(chan Item, b.Capacity)
	done := make(chan struct{})

	require.True(t, boundedSend(out, Item{Value: 1}, b, done))
	require.False(t, boundedSend(out, Item{Value: 2}, b, done), "newest item dropped on overflow")
	require.Equal(t, 1, (<-out).Value)
}

func TestStepValidation(t *testing.T) {
	t.Parallel()

	_, err := New([]*Step{{Model: model.StepModel{Name: "Broken", Cardinality: model.OneMany}}},
		Config{}, Dependencies{})
	require.Error(t, err)
	require.Equal(t, canvaserrors.KindInvalidConfiguration, canvaserrors.Classify(err))

	_, err = New(nil, Config{}, Dependencies{})
	require.Error(t, err)
}
