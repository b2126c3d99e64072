package ledger

import (
	"context"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/log"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event describes one applied ledger mutation.
type Event struct {
	Kind   EventKind          `json:"kind"`
	Record core.ExpenseRecord `json:"record"`
	At     time.Time          `json:"at"`
}

// Notifier receives ledger events after each mutation.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// event stamps a change. It must be called with mu held.
func (s *Store) event(kind EventKind, r core.ExpenseRecord) Event {
	return Event{Kind: kind, Record: r, At: s.now()}
}

// notify must be called without mu held, so a slow notifier never holds up
// other ledger operations. Failures are logged only.
func (s *Store) notify(ctx context.Context, e Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Ledger event not delivered",
			log.NewFields().WithRecord(e.Record).WithOperation(log.OpPublish).WithError(err).ToSlice()...)
	}
}
