// Package progress derives a completion percentage from the step gate and
// delivers it to the persistence collaborator. Delivery is fire and forget:
// failures are logged and never reach simulation state.
package progress

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Record is what the persistence collaborator receives on every change of
// the completed step set.
type Record struct {
	SessionID          string    `json:"session_id"`
	ExperimentID       string    `json:"experiment_id"`
	CurrentStep        int       `json:"current_step"`
	Completed          bool      `json:"completed"`
	ProgressPercentage int       `json:"progress_percentage"`
	ReportedAt         time.Time `json:"reported_at"`
}

// Sink accepts progress records.
type Sink interface {
	Report(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Report implements Sink.
func (f SinkFunc) Report(ctx context.Context, rec Record) error { return f(ctx, rec) }

// NopSink discards records.
type NopSink struct{}

// Report implements Sink.
func (NopSink) Report(context.Context, Record) error { return nil }

// Percentage is round(100 * completed / total), clamped to 0..100.
func Percentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(completed) / float64(total)))
	if p > 100 {
		return 100
	}
	return p
}

// Snapshot is the gate state the reporter derives a record from.
type Snapshot struct {
	CompletedIDs []string
	TotalSteps   int
	ActiveIndex  int
}

// Reporter publishes a record whenever the completed set changes.
type Reporter struct {
	sink         Sink
	experimentID string
	sessionID    string
	timeout      time.Duration
	clock        func() time.Time
	logger       *zap.Logger

	lastKey string
	primed  bool
	last    Record
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithTimeout bounds each Report call.
func WithTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) { r.timeout = d }
}

// WithClock sets the time source for ReportedAt.
func WithClock(clock func() time.Time) ReporterOption {
	return func(r *Reporter) { r.clock = clock }
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *zap.Logger) ReporterOption {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReporter creates a reporter for one experiment session. A nil sink
// discards records.
func NewReporter(sink Sink, experimentID, sessionID string, opts ...ReporterOption) *Reporter {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Reporter{
		sink:         sink,
		experimentID: experimentID,
		sessionID:    sessionID,
		timeout:      5 * time.Second,
		clock:        time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Derive builds a record from gate state without publishing it.
func (r *Reporter) Derive(s Snapshot) Record {
	n := len(s.CompletedIDs)
	return Record{
		SessionID:          r.sessionID,
		ExperimentID:       r.experimentID,
		CurrentStep:        s.ActiveIndex,
		Completed:          s.TotalSteps > 0 && n >= s.TotalSteps,
		ProgressPercentage: Percentage(n, s.TotalSteps),
		ReportedAt:         r.clock().UTC(),
	}
}

// Update publishes a record if the completed set differs from the last one
// published. It reports whether a record was sent.
func (r *Reporter) Update(ctx context.Context, s Snapshot) (Record, bool) {
	key := strings.Join(s.CompletedIDs, "\x00")
	if r.primed && key == r.lastKey {
		return r.last, false
	}
	rec := r.Derive(s)
	r.lastKey = key
	r.primed = true
	r.last = rec

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.sink.Report(ctx, rec); err != nil {
		r.logger.Warn("progress delivery failed",
			zap.String("experiment", rec.ExperimentID),
			zap.Int("percentage", rec.ProgressPercentage),
			zap.Error(err))
	}
	return rec, true
}

// Prime records the initial state as already published so the first
// Update only fires on a real change.
func (r *Reporter) Prime(s Snapshot) {
	r.lastKey = strings.Join(s.CompletedIDs, "\x00")
	r.primed = true
	r.last = r.Derive(s)
}

// Last returns the most recently derived record.
func (r *Reporter) Last() Record {
	return r.last
}

// SessionID identifies this run of the experiment.
func (r *Reporter) SessionID() string {
	return r.sessionID
}
