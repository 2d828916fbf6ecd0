package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/canvasmesh/canvas/internal/domain"
)

// Chaos markers embedded in payloads for failure-injection tests. They are
// only honored when the orchestrator runs with ChaosEnabled; production
// inputs carrying them are passed through untouched.
const MarkerPermanent = "__FAIL_PERMANENT__"

var transientMarkerRegex = regexp.MustCompile(`__FAIL_TRANSIENT_(\d+)__`)

// markerOf extracts the chaos marker, if any, from a payload.
func markerOf(value any) string {
	body := payloadText(value)
	if strings.Contains(body, MarkerPermanent) {
		return MarkerPermanent
	}
	return transientMarkerRegex.FindString(body)
}

// transientBudget parses the failure count N out of __FAIL_TRANSIENT_N__.
func transientBudget(marker string) int {
	match := transientMarkerRegex.FindStringSubmatch(marker)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

func payloadText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case domain.Document:
		return v.Body
	case *domain.Document:
		if v != nil {
			return v.Body
		}
	case domain.TokenBatch:
		return strings.Join(v.Tokens, " ")
	case *domain.TokenBatch:
		if v != nil {
			return strings.Join(v.Tokens, " ")
		}
	}
	return ""
}

// externalID derives the parking-lot identity of a payload.
func externalID(value any) string {
	switch v := value.(type) {
	case domain.Document:
		return v.DocID
	case *domain.Document:
		if v != nil {
			return v.DocID
		}
	case domain.TokenBatch:
		return v.DocID
	case *domain.TokenBatch:
		if v != nil {
			return v.DocID
		}
	case domain.Checkpoint:
		return v.OrderID
	case *domain.Checkpoint:
		if v != nil {
			return v.OrderID
		}
	case string:
		return v
	}
	return fmt.Sprintf("%v", value)
}

// attemptKey identifies one payload's transient-failure budget.
type attemptKey struct {
	DocID  string
	Marker string
}

// attemptTracker counts transient chaos failures per (docID, marker).
// Counters are cleared on success and on permanent parking so a reprocessed
// payload starts from a clean budget.
type attemptTracker struct {
	mu       sync.Mutex
	attempts map[attemptKey]int
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{attempts: make(map[attemptKey]int)}
}

// next increments and returns the attempt count for the key.
func (t *attemptTracker) next(key attemptKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}

func (t *attemptTracker) clear(key attemptKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, key)
}

func (t *attemptTracker) count(key attemptKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[key]
}
