// Package correlation implements the §4.8 Correlation Layer: a
// RequestContext wrapping every inbound call with a fresh correlation id,
// child contexts that textually derive from their parent, and a tracker
// that reclaims contexts left open too long.
package correlation

import (
	"fmt"
	"sync"
	"time"
)

// Context is one in-flight request's correlation envelope.
type Context struct {
	CorrelationID string
	StartInstant  time.Time
	WallClock     time.Time
	Operation     string
	UserID        string
	Metadata      map[string]string
	ParentID      string
}

// IDFunc supplies correlation ids; production wiring uses google/uuid,
// tests use a deterministic sequence.
type IDFunc func() string

// Clock abstracts time for deterministic start/elapsed assertions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New starts a root RequestContext for operation.
func New(operation, userID string, newID IDFunc, clock Clock) Context {
	if clock == nil {
		clock = systemClock{}
	}
	now := clock.Now()
	return Context{
		CorrelationID: newID(),
		StartInstant:  now,
		WallClock:     now,
		Operation:     operation,
		UserID:        userID,
		Metadata:      map[string]string{},
	}
}

// Child derives a context for a sub-operation. The child id textually
// includes the parent id, user and metadata are inherited, and ParentID
// records the linkage.
func (c Context) Child(operation string, newID IDFunc, clock Clock) Context {
	if clock == nil {
		clock = systemClock{}
	}
	now := clock.Now()
	metadata := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	return Context{
		CorrelationID: fmt.Sprintf("%s/%s", c.CorrelationID, newID()),
		StartInstant:  now,
		WallClock:     now,
		Operation:     operation,
		UserID:        c.UserID,
		Metadata:      metadata,
		ParentID:      c.CorrelationID,
	}
}

// Elapsed reports how long c has been open, relative to clock (system
// clock if nil).
func (c Context) Elapsed(clock Clock) time.Duration {
	if clock == nil {
		clock = systemClock{}
	}
	return clock.Now().Sub(c.StartInstant)
}

// Event is a structured log record emitted at start and completion.
type Event struct {
	CorrelationID string
	Operation     string
	UserID        string
	Elapsed       time.Duration
	Outcome       string
}

// EventSink receives start/completion/timeout-cleanup events. No
// implementation is wired in this module; the engine carries correlation
// ids into kernel/audit records instead.
type EventSink interface {
	RecordEvent(Event)
}

// LogStart emits a structured start event for c.
func LogStart(sink EventSink, c Context) {
	if sink == nil {
		return
	}
	sink.RecordEvent(Event{CorrelationID: c.CorrelationID, Operation: c.Operation, UserID: c.UserID, Outcome: "started"})
}

// LogCompletion emits a structured completion event for c, with outcome
// describing success/failure and elapsed time relative to clock.
func LogCompletion(sink EventSink, c Context, clock Clock, outcome string) {
	if sink == nil {
		return
	}
	sink.RecordEvent(Event{
		CorrelationID: c.CorrelationID,
		Operation:     c.Operation,
		UserID:        c.UserID,
		Elapsed:       c.Elapsed(clock),
		Outcome:       outcome,
	})
}

// Tracker holds active contexts and periodically reclaims ones older than
// MaxAge, emitting a timeout-cleanup event for each.
type Tracker struct {
	MaxAge time.Duration
	Clock  Clock
	Sink   EventSink

	mu     sync.Mutex
	active map[string]Context
}

// NewTracker builds a Tracker with the given reclamation age.
func NewTracker(maxAge time.Duration, clock Clock, sink EventSink) *Tracker {
	return &Tracker{MaxAge: maxAge, Clock: clock, Sink: sink, active: make(map[string]Context)}
}

// Track registers c as active.
func (t *Tracker) Track(c Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[c.CorrelationID] = c
}

// Release removes c from tracking, for the normal completion path.
func (t *Tracker) Release(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, correlationID)
}

// Reclaim sweeps active contexts older than MaxAge, removing them and
// emitting a timeout-cleanup event for each. Returns the reclaimed ids.
func (t *Tracker) Reclaim() []string {
	clock := t.Clock
	if clock == nil {
		clock = systemClock{}
	}
	now := clock.Now()

	t.mu.Lock()
	var stale []string
	for id, c := range t.active {
		if now.Sub(c.StartInstant) > t.MaxAge {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.active, id)
	}
	t.mu.Unlock()

	for _, id := range stale {
		if t.Sink != nil {
			t.Sink.RecordEvent(Event{CorrelationID: id, Operation: "reclaim", Outcome: "timeout_cleanup"})
		}
	}
	return stale
}
