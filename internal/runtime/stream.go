package runtime

// Item is one element of a pipeline stream: a value or a classified error.
// Errors flow downstream as items so a single failure never tears down the
// whole stream.
type Item struct {
	Value any
	Err   error
}

// Strategy selects the overflow behavior of a stream boundary.
type Strategy string

const (
	StrategyBuffer Strategy = "BUFFER"
	StrategyDrop   Strategy = "DROP"
)

// DefaultCapacity bounds a boundary whose capacity is unset or invalid.
const DefaultCapacity = 256

// Boundary is the backpressure contract applied between two steps.
type Boundary struct {
	Strategy Strategy
	Capacity int
}

// NormalizeBoundary maps unknown or blank strategies to BUFFER and
// non-positive capacities to the default.
func NormalizeBoundary(b Boundary) Boundary {
	if b.Strategy != StrategyDrop {
		b.Strategy = StrategyBuffer
	}
	if b.Capacity <= 0 {
		b.Capacity = DefaultCapacity
	}
	return b
}

// boundedSend delivers an item across a boundary. BUFFER blocks until the
// channel accepts the item or the done channel closes; DROP discards the
// newest item when the buffer is full. It reports whether the item was
// delivered.
func boundedSend(out chan Item, item Item, b Boundary, done <-chan struct{}) bool {
	if b.Strategy == StrategyDrop {
		select {
		case out <- item:
			return true
		default:
			return false
		}
	}
	select {
	case out <- item:
		return true
	case <-done:
		return false
	}
}
