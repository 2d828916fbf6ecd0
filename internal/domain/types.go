package domain

import "time"

// Document is the canonical ingest item: a unit of source content flowing
// into a pipeline.
type Document struct {
	DocID     string
	URL       string
	Body      string
	FetchedAt time.Time
}

// TokenBatch is one expansion unit produced from a document. A document
// typically expands into many batches (ONE_MANY).
type TokenBatch struct {
	DocID   string
	BatchNo int
	Tokens  []string
}

// Checkpoint is the stable terminal artifact of a pipeline: an append-only
// aggregate state suitable for forwarding to a downstream pipeline. It is
// never mutated in place.
type Checkpoint struct {
	OrderID    string
	CustomerID string
	ReadyAt    time.Time
	Aggregates map[string]int64
}

// Key returns the deterministic forwarding key used for idempotent
// inter-pipeline handoff.
func (c Checkpoint) Key() string {
	return c.OrderID
}
