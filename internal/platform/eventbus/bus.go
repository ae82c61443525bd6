// Package eventbus implements the per-workflow, append-only event log that
// the orchestrator publishes stage transitions to. Storage is in-memory:
// each workflow has a capped stream used by live subscribers and a
// time-bounded history list served by the events API. Delivery is
// best-effort and never fails the workflow being described.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// StreamCap bounds the live stream per workflow.
	StreamCap = 1000
	// HistoryRetention bounds how long history entries are kept.
	HistoryRetention = 7 * 24 * time.Hour
)

// Event is one stage transition of a workflow. Immutable once published;
// ordering is append order.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Broadcaster receives published events for live fan-out (e.g. the
// websocket hub). Errors are logged and swallowed.
type Broadcaster interface {
	Broadcast(workflowID string, event Event) error
}

type stream struct {
	entries []Event // capped at StreamCap, oldest dropped
	base    uint64  // sequence number of entries[0]
	notify  chan struct{}
}

// Bus is the in-process event log. Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	streams     map[string]*stream
	history     map[string][]Event
	logger      zerolog.Logger
	broadcaster Broadcaster
	now         func() time.Time
}

// New creates an empty Bus. broadcaster may be nil.
func New(logger zerolog.Logger, broadcaster Broadcaster) *Bus {
	return &Bus{
		streams:     make(map[string]*stream),
		history:     make(map[string][]Event),
		logger:      logger,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Publish appends the event to the workflow's stream and history and wakes
// live subscribers. It never returns an error: delivery problems are logged
// and swallowed so the workflow being described is unaffected.
func (b *Bus) Publish(workflowID string, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	event.WorkflowID = workflowID

	b.mu.Lock()
	s := b.streams[workflowID]
	if s == nil {
		s = &stream{notify: make(chan struct{})}
		b.streams[workflowID] = s
	}
	s.entries = append(s.entries, event)
	if len(s.entries) > StreamCap {
		drop := len(s.entries) - StreamCap
		s.entries = s.entries[drop:]
		s.base += uint64(drop)
	}
	close(s.notify)
	s.notify = make(chan struct{})

	b.history[workflowID] = b.pruneLocked(append(b.history[workflowID], event))
	b.mu.Unlock()

	if b.broadcaster != nil {
		if err := b.broadcaster.Broadcast(workflowID, event); err != nil {
			b.logger.Warn().Err(err).
				Str("workflow_id", workflowID).
				Str("stage", event.Stage).
				Msg("event broadcast failed")
		}
	}
}

// pruneLocked drops history entries older than the retention window.
// Caller holds b.mu.
func (b *Bus) pruneLocked(entries []Event) []Event {
	cutoff := b.now().Add(-HistoryRetention)
	i := 0
	for i < len(entries) && entries[i].Timestamp.Before(cutoff) {
		i++
	}
	return entries[i:]
}

// GetEvents returns the most recent limit history entries for the workflow,
// in append order. limit <= 0 returns everything retained.
func (b *Bus) GetEvents(workflowID string, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.pruneLocked(b.history[workflowID])
	b.history[workflowID] = entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Event, len(entries))
	copy(out, entries)
	return out
}

// Subscribe replays the workflow's stream from its earliest retained entry
// and then blocks for new events, invoking callback once per entry in
// order. It returns only when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, workflowID string, callback func(Event)) error {
	var next uint64

	for {
		b.mu.Lock()
		s := b.streams[workflowID]
		if s == nil {
			s = &stream{notify: make(chan struct{})}
			b.streams[workflowID] = s
		}
		if next < s.base {
			// Fell behind the capped stream; resume at the oldest entry.
			next = s.base
		}
		var pending []Event
		if idx := next - s.base; idx < uint64(len(s.entries)) {
			pending = make([]Event, uint64(len(s.entries))-idx)
			copy(pending, s.entries[idx:])
		}
		notify := s.notify
		b.mu.Unlock()

		for _, ev := range pending {
			callback(ev)
			next++
		}

		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}
