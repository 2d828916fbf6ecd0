package model

import (
	"fmt"
	"sync"

	"github.com/canvasmesh/canvas/internal/logger"
)

// Severity grades a diagnostic emitted during extraction or compilation.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Diagnostic is one finding against a declared step or aspect.
type Diagnostic struct {
	Severity Severity
	Step     string
	Message  string
}

func (d Diagnostic) String() string {
	if d.Step != "" {
		return fmt.Sprintf("%s [%s] %s", d.Severity, d.Step, d.Message)
	}
	return fmt.Sprintf("%s %s", d.Severity, d.Message)
}

// Reporter receives diagnostics as they are produced. Implementations must
// be safe for concurrent use.
type Reporter interface {
	Report(d Diagnostic)
}

// CollectingReporter accumulates diagnostics for later inspection.
type CollectingReporter struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
}

// NewCollectingReporter creates an empty collecting reporter.
func NewCollectingReporter() *CollectingReporter {
	return &CollectingReporter{}
}

// Report appends the diagnostic.
func (r *CollectingReporter) Report(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
}

// Diagnostics returns a snapshot of everything reported so far.
func (r *CollectingReporter) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.diagnostics))
	copy(out, r.diagnostics)
	return out
}

// HasErrors reports whether any ERROR severity diagnostic was recorded.
func (r *CollectingReporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// LogReporter forwards diagnostics to the structured logger.
type LogReporter struct {
	Log *logger.Logger
}

// Report writes the diagnostic at the matching log level.
func (r LogReporter) Report(d Diagnostic) {
	log := r.Log.WithFields(map[string]any{"step": d.Step})
	switch d.Severity {
	case SeverityError:
		log.Error(nil, d.Message)
	case SeverityWarn:
		log.Warn(d.Message)
	default:
		log.Info(d.Message)
	}
}

// TeeReporter fans a diagnostic out to several reporters.
type TeeReporter []Reporter

// Report delivers the diagnostic to every member.
func (r TeeReporter) Report(d Diagnostic) {
	for _, reporter := range r {
		if reporter != nil {
			reporter.Report(d)
		}
	}
}
