package guard

import (
	"sync"
	"time"

	"github.com/canvasmesh/canvas/internal/logger"
)

// ParkedItem records one exhausted failure so operators can inspect it by
// external id.
type ParkedItem struct {
	ExternalID string
	ErrorKind  string
	Message    string
	ParkedAt   time.Time
}

// ParkingLot is the bounded append-only sink of exhausted failures.
type ParkingLot struct {
	mu       sync.Mutex
	items    []ParkedItem
	capacity int
	dropped  int
	log      *logger.Logger
	closed   bool
	now      func() time.Time
}

// NewParkingLot creates a lot bounded to capacity items.
func NewParkingLot(capacity int, log *logger.Logger) *ParkingLot {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ParkingLot{
		capacity: capacity,
		log:      log.WithComponent("parking-lot"),
		now:      time.Now,
	}
}

// Park appends a failure record. Beyond capacity the record is dropped with
// a warning; parking never fails the caller.
func (p *ParkingLot) Park(externalID, errorKind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if len(p.items) >= p.capacity {
		p.dropped++
		p.log.WithFields(map[string]any{"external_id": externalID}).Warn("parking lot full, dropping failure record")
		return
	}
	p.items = append(p.items, ParkedItem{
		ExternalID: externalID,
		ErrorKind:  errorKind,
		Message:    message,
		ParkedAt:   p.now(),
	})
}

// Entries returns a snapshot of all parked items.
func (p *ParkingLot) Entries() []ParkedItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ParkedItem, len(p.items))
	copy(out, p.items)
	return out
}

// Find returns the parked items recorded for an external id.
func (p *ParkingLot) Find(externalID string) []ParkedItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ParkedItem
	for _, item := range p.items {
		if item.ExternalID == externalID {
			out = append(out, item)
		}
	}
	return out
}

// Dropped reports how many records were discarded due to the bound.
func (p *ParkingLot) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Shutdown closes the lot; later parks are ignored.
func (p *ParkingLot) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
