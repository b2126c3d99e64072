// Package ledger holds the in-memory expense collection, the single source of
// truth every view reads, and writes it through to persistence on each change.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/log"
)

// ErrNotFound is returned by Update when no record carries the given id.
var ErrNotFound = errors.New("expense not found")

// Persister is the load/save contract of the persistence adapter.
type Persister interface {
	Load(ctx context.Context) []core.ExpenseRecord
	Save(ctx context.Context, records []core.ExpenseRecord) error
}

// PersistError reports a mutation that was applied in memory but could not
// be written out. It is a warning, not a failure of the operation.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s applied but not saved: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err carries a PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// Store is the ledger. All mutation and the write that follows it happen
// under one lock, so there is exactly one writer at a time. Change events
// are delivered after the lock is released.
type Store struct {
	mu       sync.Mutex
	records  []core.ExpenseRecord
	editing  *core.ExpenseRecord
	lastID   int64
	persist  Persister
	notifier Notifier
	now      func() time.Time
	logger   *log.Logger
}

type Option func(*Store)

// WithClock overrides the time source used for id assignment.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithNotifier registers a receiver for change events.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds a Store and loads the saved collection once.
func New(ctx context.Context, p Persister, opts ...Option) *Store {
	s := &Store{
		persist: p,
		now:     time.Now,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentLedger)

	s.records = p.Load(ctx)
	if s.records == nil {
		s.records = []core.ExpenseRecord{}
	}
	for _, r := range s.records {
		if r.ID > s.lastID {
			s.lastID = r.ID
		}
	}
	return s
}

// nextID derives an id from the creation time in milliseconds, bumped past
// every id issued or loaded so far.
func (s *Store) nextID() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// Add assigns a fresh id to candidate, appends it and persists the ledger.
// Any id on candidate is ignored. No validation happens here.
func (s *Store) Add(ctx context.Context, candidate core.ExpenseRecord) (core.ExpenseRecord, error) {
	s.mu.Lock()
	candidate.ID = s.nextID()
	s.records = append(s.records, candidate)

	s.logger.InfoContext(ctx, "Expense added", log.NewFields().WithRecord(candidate).WithOperation(log.OpCreate).ToSlice()...)
	err := s.save(ctx, log.OpCreate)
	e := s.event(EventCreated, candidate)
	s.mu.Unlock()

	s.notify(ctx, e)
	return candidate, err
}

// Delete removes the record with id. An unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Delete of unknown expense ignored", log.FieldExpenseID, id)
		return nil
	}
	removed := s.records[idx]
	next := make([]core.ExpenseRecord, 0, len(s.records)-1)
	next = append(next, s.records[:idx]...)
	next = append(next, s.records[idx+1:]...)
	s.records = next

	if s.editing != nil && s.editing.ID == id {
		s.editing = nil
	}

	s.logger.InfoContext(ctx, "Expense deleted", log.NewFields().WithRecord(removed).WithOperation(log.OpDelete).ToSlice()...)
	err := s.save(ctx, log.OpDelete)
	e := s.event(EventDeleted, removed)
	s.mu.Unlock()

	s.notify(ctx, e)
	return err
}

// BeginEdit stages record for editing, replacing any staged record.
func (s *Store) BeginEdit(record core.ExpenseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := record
	s.editing = &r
}

// Editing returns the staged record, if any.
func (s *Store) Editing() (core.ExpenseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return core.ExpenseRecord{}, false
	}
	return *s.editing, true
}

// ClearEdit drops the staged record without touching the collection.
func (s *Store) ClearEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
}

// Update replaces the record with the same id in place and clears the edit
// stage. If no record matches, nothing changes and ErrNotFound is returned.
func (s *Store) Update(ctx context.Context, record core.ExpenseRecord) error {
	s.mu.Lock()
	idx := s.indexOf(record.ID)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Update target not found",
			log.NewFields().WithRecord(record).WithOperation(log.OpUpdate).WithErrorType(log.ErrorTypeNotFound).ToSlice()...)
		return fmt.Errorf("update expense %d: %w", record.ID, ErrNotFound)
	}

	next := make([]core.ExpenseRecord, len(s.records))
	copy(next, s.records)
	next[idx] = record
	s.records = next
	s.editing = nil

	s.logger.InfoContext(ctx, "Expense updated", log.NewFields().WithRecord(record).WithOperation(log.OpUpdate).ToSlice()...)
	err := s.save(ctx, log.OpUpdate)
	e := s.event(EventUpdated, record)
	s.mu.Unlock()

	s.notify(ctx, e)
	return err
}

// Records returns a copy of the collection in insertion order.
func (s *Store) Records() []core.ExpenseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ExpenseRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with id.
func (s *Store) Get(id int64) (core.ExpenseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.records[idx], true
	}
	return core.ExpenseRecord{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) indexOf(id int64) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// save must be called with mu held.
func (s *Store) save(ctx context.Context, op string) error {
	snapshot := make([]core.ExpenseRecord, len(s.records))
	copy(snapshot, s.records)
	if err := s.persist.Save(ctx, snapshot); err != nil {
		s.logger.ErrorContext(ctx, "Ledger write failed, change kept in memory",
			log.NewFields().WithOperation(op).WithError(err).WithErrorType(log.ErrorTypeStorage).ToSlice()...)
		return &PersistError{Op: op, Err: err}
	}
	return nil
}
