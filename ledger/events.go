package ledger

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names a human-observable ledger event.
type EventType string

const (
	NodeRegistered     EventType = "NodeRegistered"
	SignalRegistered   EventType = "SignalRegistered"
	FlowRateDecrypted  EventType = "FlowRateDecrypted"
	CycleTimeDecrypted EventType = "CycleTimeDecrypted"
	TrafficAdjusted    EventType = "TrafficAdjusted"
)

// Event carries the identifiers (and, for decryption events, the revealed
// value) of a committed ledger operation. Events are emitted after the
// operation has committed; a rejected operation emits nothing.
type Event struct {
	Type     EventType `json:"type"`
	NodeID   string    `json:"node_id,omitempty"`
	SignalID string    `json:"signal_id,omitempty"`
	Value    uint32    `json:"value,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink consumes ledger events. Sinks must not block; emission happens
// while the ledger lock is held.
type EventSink interface {
	Emit(Event)
}

// SlogSink logs every event through a structured logger.
type SlogSink struct {
	Log *slog.Logger
}

func (s *SlogSink) Emit(ev Event) {
	attrs := []any{"type", string(ev.Type)}
	if ev.NodeID != "" {
		attrs = append(attrs, "nodeID", ev.NodeID)
	}
	if ev.SignalID != "" {
		attrs = append(attrs, "signalID", ev.SignalID)
	}
	if ev.Type == FlowRateDecrypted || ev.Type == CycleTimeDecrypted {
		attrs = append(attrs, "value", ev.Value)
	}
	s.Log.Info("ledger event", attrs...)
}

// RingSink retains the most recent events for the facade's /events endpoint.
type RingSink struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRingSink creates a sink retaining up to limit events.
func NewRingSink(limit int) *RingSink {
	return &RingSink{limit: limit}
}

func (s *RingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
}

// Recent returns a copy of the retained events, oldest first.
func (s *RingSink) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
