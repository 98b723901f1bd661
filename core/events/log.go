package events

import (
	"sync"

	"agoranet/core/types"
)

// payloadEvent is implemented by events that carry a canonical attribute
// record alongside their type tag.
type payloadEvent interface {
	Event() *types.Event
}

// Entry pairs an event record with its position in the run's event stream.
type Entry struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Log is an ordered, append-only stream of lifecycle events for one
// procurement run. Appends are safe for concurrent per-provider workers.
// Every appended event is also fanned out to an optional downstream emitter
// so observers can watch progress without coupling to the core's control
// flow.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	seq     uint64
	sink    Emitter
}

// NewLog constructs an event log fanning out to the provided sink. A nil sink
// is replaced with a no-op emitter.
func NewLog(sink Emitter) *Log {
	if sink == nil {
		sink = NoopEmitter{}
	}
	return &Log{sink: sink}
}

// SetSink replaces the downstream subscriber. Passing nil detaches it.
func (l *Log) SetSink(sink Emitter) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if sink == nil {
		sink = NoopEmitter{}
	}
	l.sink = sink
}

// Emit implements the Emitter interface so the log can be handed directly to
// the engines as their event destination.
func (l *Log) Emit(evt Event) { l.Append(evt) }

// Append records the event in order, assigns it the next sequence number and
// forwards it to the sink.
func (l *Log) Append(evt Event) {
	if l == nil || evt == nil {
		return
	}
	record := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if carrier, ok := evt.(payloadEvent); ok {
		if payload := carrier.Event(); payload != nil {
			record = payload.Clone()
		}
	}
	l.mu.Lock()
	l.seq++
	l.entries = append(l.entries, Entry{Sequence: l.seq, Event: record})
	sink := l.sink
	l.mu.Unlock()
	sink.Emit(evt)
}

// Len reports the number of recorded events.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a defensive copy of the recorded stream.
func (l *Log) Snapshot() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	for i, entry := range l.entries {
		out[i] = Entry{Sequence: entry.Sequence, Event: entry.Event.Clone()}
	}
	return out
}

// Types returns the ordered list of event type tags, primarily for tests and
// receipts.
func (l *Log) Types() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, entry := range l.entries {
		out[i] = entry.Event.Type
	}
	return out
}
