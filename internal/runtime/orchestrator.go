package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canvasmesh/canvas/internal/cache"
	"github.com/canvasmesh/canvas/internal/domain"
	"github.com/canvasmesh/canvas/internal/guard"
	"github.com/canvasmesh/canvas/internal/logger"
	"github.com/canvasmesh/canvas/internal/model"
	canvaserrors "github.com/canvasmesh/canvas/pkg/errors"
)

// defaultBatchBound caps MANY_ONE collection when no explicit bound is
// declared.
const defaultBatchBound = 10_000

// Config tunes one orchestrator instance.
type Config struct {
	Policy       Policy
	Timeout      time.Duration
	BatchBound   int
	Parallelism  int
	ChaosEnabled bool
	// BaseContext seeds the pipeline context attached to every invocation.
	BaseContext domain.PipelineContext
}

// Dependencies are the shared process-wide collaborators.
type Dependencies struct {
	Gate    *cache.Gate
	Parking *guard.ParkingLot
	Log     *logger.Logger
}

// Orchestrator drives the effective step order over bounded streams.
type Orchestrator struct {
	steps    []*Step
	cfg      Config
	gate     *cache.Gate
	parking  *guard.ParkingLot
	attempts *attemptTracker
	log      *logger.Logger

	mu          sync.Mutex
	subscribers map[int]chan domain.Checkpoint
	nextSub     int
}

// New validates the step chain and builds an orchestrator.
func New(steps []*Step, cfg Config, deps Dependencies) (*Orchestrator, error) {
	if len(steps) == 0 {
		return nil, canvaserrors.NewInvalidConfiguration("orchestrator needs at least one step", nil)
	}
	for _, step := range steps {
		if err := step.validate(); err != nil {
			return nil, err
		}
	}

	cfg.Policy = normalizePolicy(cfg.Policy)
	if cfg.BatchBound <= 0 {
		cfg.BatchBound = defaultBatchBound
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}

	return &Orchestrator{
		steps:       steps,
		cfg:         cfg,
		gate:        deps.Gate,
		parking:     deps.Parking,
		attempts:    newAttemptTracker(),
		log:         deps.Log.WithComponent("orchestrator"),
		subscribers: make(map[int]chan domain.Checkpoint),
	}, nil
}

// Run executes the pipeline for a single input and streams the outputs.
func (o *Orchestrator) Run(ctx context.Context, input any) (<-chan Item, error) {
	if input == nil {
		return nil, canvaserrors.NewInvalidInput("input is required", nil)
	}
	in := make(chan any, 1)
	in <- input
	close(in)
	return o.Ingest(ctx, in)
}

// Ingest executes the pipeline over an input stream.
func (o *Orchestrator) Ingest(ctx context.Context, in <-chan any) (<-chan Item, error) {
	if in == nil {
		return nil, canvaserrors.NewInvalidInput("input stream is required", nil)
	}

	source := make(chan Item, DefaultCapacity)
	go func() {
		defer close(source)
		for value := range in {
			select {
			case source <- Item{Value: value}:
			case <-ctx.Done():
				return
			}
		}
	}()

	current := source
	for _, step := range o.steps {
		current = o.stage(ctx, step, current)
	}
	return o.publish(ctx, current), nil
}

// Subscribe registers a checkpoint observer. The returned cancel function
// unregisters it and closes the channel.
func (o *Orchestrator) Subscribe() (<-chan domain.Checkpoint, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan domain.Checkpoint, 16)
	o.subscribers[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(ch)
		}
	}
}

// stage spawns the processing goroutines for one step and returns its
// bounded output stream.
func (o *Orchestrator) stage(ctx context.Context, step *Step, in chan Item) chan Item {
	boundary := NormalizeBoundary(step.Boundary)
	out := make(chan Item, boundary.Capacity)

	switch step.Model.Cardinality {
	case model.ManyOne:
		go o.collectStage(ctx, step, boundary, in, out)
	case model.ManyMany:
		go o.streamStage(ctx, step, boundary, in, out)
	default:
		go o.itemStage(ctx, step, boundary, in, out)
	}
	return out
}

// itemStage handles ONE_ONE and ONE_MANY: a bounded worker pool applies the
// step to each item. STRICT-ordered and UNSAFE steps run on a single worker
// so input order is preserved.
func (o *Orchestrator) itemStage(ctx context.Context, step *Step, boundary Boundary, in chan Item, out chan Item) {
	defer close(out)

	var group errgroup.Group
	group.SetLimit(o.parallelismFor(step))

	for item := range in {
		if ctx.Err() != nil {
			break
		}
		item := item
		group.Go(func() error {
			o.processItem(ctx, step, boundary, item, out)
			return nil
		})
	}
	_ = group.Wait()
}

func (o *Orchestrator) processItem(ctx context.Context, step *Step, boundary Boundary, item Item, out chan Item) {
	if item.Err != nil {
		boundedSend(out, item, boundary, ctx.Done())
		return
	}

	pctx := o.cfg.BaseContext
	switch step.Model.Cardinality {
	case model.OneMany:
		result, err := o.invoke(ctx, step, pctx, item.Value, func(ictx context.Context) (any, error) {
			values, err := step.Expand(ictx, pctx, item.Value)
			if err != nil {
				return nil, err
			}
			return values, nil
		})
		if err != nil {
			boundedSend(out, Item{Err: err}, boundary, ctx.Done())
			return
		}
		for _, value := range result.([]any) {
			if !boundedSend(out, Item{Value: value}, boundary, ctx.Done()) && boundary.Strategy != StrategyDrop {
				return
			}
		}
	default:
		result, err := o.invoke(ctx, step, pctx, item.Value, func(ictx context.Context) (any, error) {
			return step.Apply(ictx, pctx, item.Value)
		})
		if err != nil {
			boundedSend(out, Item{Err: err}, boundary, ctx.Done())
			return
		}
		boundedSend(out, Item{Value: result}, boundary, ctx.Done())
	}
}

// collectStage handles MANY_ONE: upstream items accumulate into batches of
// at most the configured bound; each full batch and the final partial batch
// invoke the step once. An upstream that closes without ever delivering an
// item is an input error.
func (o *Orchestrator) collectStage(ctx context.Context, step *Step, boundary Boundary, in chan Item, out chan Item) {
	defer close(out)

	bound := step.BatchBound
	if bound <= 0 {
		bound = o.cfg.BatchBound
	}

	pctx := o.cfg.BaseContext
	batch := make([]any, 0, bound)
	collected := 0

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		values := batch
		batch = make([]any, 0, bound)
		result, err := o.invoke(ctx, step, pctx, values, func(ictx context.Context) (any, error) {
			return step.Collect(ictx, pctx, values)
		})
		if err != nil {
			return boundedSend(out, Item{Err: err}, boundary, ctx.Done())
		}
		return boundedSend(out, Item{Value: result}, boundary, ctx.Done())
	}

	for item := range in {
		if ctx.Err() != nil {
			return
		}
		if item.Err != nil {
			boundedSend(out, item, boundary, ctx.Done())
			continue
		}
		batch = append(batch, item.Value)
		collected++
		if len(batch) >= bound {
			if !flush() {
				return
			}
		}
	}

	if collected == 0 {
		if ctx.Err() == nil {
			boundedSend(out, Item{Err: canvaserrors.NewInvalidInput("token batches are required", nil)},
				boundary, ctx.Done())
		}
		return
	}
	flush()
}

// streamStage handles MANY_MANY: the upstream value stream is handed to the
// step unchanged and its emissions are re-bounded on the way out.
func (o *Orchestrator) streamStage(ctx context.Context, step *Step, boundary Boundary, in chan Item, out chan Item) {
	defer close(out)

	values := make(chan any, boundary.Capacity)
	errs := make(chan Item, boundary.Capacity)
	stop := make(chan struct{})

	var feed sync.WaitGroup
	feed.Add(1)
	go func() {
		defer feed.Done()
		defer close(values)
		defer close(errs)
		for item := range in {
			if item.Err != nil {
				select {
				case errs <- item:
				default:
					// Error overflow beyond the boundary is dropped.
				}
				continue
			}
			select {
			case values <- item.Value:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	pctx := o.cfg.BaseContext
	unlock := step.lock()
	err := step.Stream(ctx, pctx, values, func(value any) error {
		if !boundedSend(out, Item{Value: value}, boundary, ctx.Done()) && boundary.Strategy != StrategyDrop {
			return canvaserrors.NewCancelled("output stream closed", ctx.Err())
		}
		return nil
	})
	unlock()
	close(stop)
	feed.Wait()

	for item := range errs {
		boundedSend(out, item, boundary, ctx.Done())
	}
	if err != nil && canvaserrors.Classify(err) != canvaserrors.KindCancelled {
		boundedSend(out, Item{Err: err}, boundary, ctx.Done())
	}
}

// publish forwards the terminal stream to the caller and broadcasts
// checkpoint values to subscribers.
func (o *Orchestrator) publish(ctx context.Context, in chan Item) chan Item {
	out := make(chan Item, DefaultCapacity)
	go func() {
		defer close(out)
		for item := range in {
			if item.Err == nil {
				o.broadcast(item.Value)
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (o *Orchestrator) broadcast(value any) {
	var checkpoint domain.Checkpoint
	switch v := value.(type) {
	case domain.Checkpoint:
		checkpoint = v
	case *domain.Checkpoint:
		if v == nil {
			return
		}
		checkpoint = *v
	default:
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- checkpoint:
		default:
			// Slow subscribers lose checkpoints rather than stall the run.
		}
	}
}

func (o *Orchestrator) parallelismFor(step *Step) int {
	if step.Model.ThreadSafety == model.SafetyUnsafe {
		return 1
	}
	// Only RELAXED steps opt into concurrent workers; everything else keeps
	// arrival order by running on a single worker.
	if step.Model.Ordering != model.OrderingRelaxed {
		return 1
	}
	if step.Model.Parallelism > 0 {
		return step.Model.Parallelism
	}
	return o.cfg.Parallelism
}
