// Package events provides the controller's append-only audit ledger.
//
// It supports:
// - Recording typed audit events with structured fields
// - Emitting structured output via slog.Logger
// - Keeping the full in-memory history (the ledger is append-only)
// - Querying recent history (Tail, All, QueryByType)
// - Push delivery to registered observers
// - Compressed snapshot persistence for the key-value store
//
// The ledger is not required for the controller's correctness; it
// exists for external observability and audit.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names a kind of audit event.
type Type string

// Audit event types emitted by the controller.
const (
	TypeOwnershipTransferred Type = "ownership_transferred"
	TypeProviderAdded        Type = "provider_added"
	TypeProviderRemoved      Type = "provider_removed"
	TypePaused               Type = "paused"
	TypeUnpaused             Type = "unpaused"
	TypeCooldownChanged      Type = "cooldown_changed"
	TypeBatchOpened          Type = "batch_opened"
	TypeBatchClosed          Type = "batch_closed"
	TypeDataSubmitted        Type = "data_submitted"
	TypeDecryptionRequested  Type = "decryption_requested"
	TypeDecryptionCompleted  Type = "decryption_completed"
)

// Event is one entry of the audit ledger.
type Event struct {
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Type      Type              `json:"type"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Observer receives events as they are recorded.
type Observer interface {
	Notify(Event)
}

// Ledger stores audit events in memory, outputs them to slog, and
// pushes them to registered observers.
type Ledger struct {
	logger *slog.Logger

	mu        sync.RWMutex
	entries   []Event
	nextSeq   uint64
	observers map[int]Observer
	nextObsID int
}

// NewLedger creates an empty Ledger writing to the given logger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		logger:    logger,
		entries:   make([]Event, 0),
		nextSeq:   1,
		observers: make(map[int]Observer),
	}
}

// Record appends an event to the ledger, writes it to slog, and
// pushes it to all observers. It returns the recorded event with its
// assigned sequence number.
func (l *Ledger) Record(
	ctx context.Context,
	eventType Type,
	fields map[string]string,
) Event {
	l.mu.Lock()
	entry := Event{
		Seq:       l.nextSeq,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Fields:    fields,
	}
	l.nextSeq++
	l.entries = append(l.entries, entry)
	obs := make([]Observer, 0, len(l.observers))
	for _, o := range l.observers {
		obs = append(obs, o)
	}
	l.mu.Unlock()

	if l.logger != nil {
		attrs := []any{
			"seq", entry.Seq,
			"event", string(entry.Type),
		}
		if len(fields) > 0 {
			attrs = append(attrs, "fields", fields)
		}
		l.logger.Log(
			ctx, slog.LevelInfo, "audit event", attrs...,
		)
	}

	for _, o := range obs {
		o.Notify(entry)
	}

	return entry
}

// Subscribe registers an observer and returns its subscription id.
func (l *Ledger) Subscribe(o Observer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextObsID
	l.nextObsID++
	l.observers[id] = o
	return id
}

// Unsubscribe removes an observer by its subscription id.
func (l *Ledger) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.observers, id)
}

// Tail returns the most recent n events, oldest first.
func (l *Ledger) Tail(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Event, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// All returns a copy of the full ledger, oldest first.
func (l *Ledger) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// QueryByType returns all events of the given type, oldest first.
func (l *Ledger) QueryByType(eventType Type) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range l.entries {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
