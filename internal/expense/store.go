// Package expense holds the expense collection, its derived views and the
// persistence of the whole collection as a single blob.
package expense

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendings/internal/blob"
	"spendings/internal/core"
	"spendings/internal/log"
)

// DefaultKey is the blob key the collection lives under. Changing it
// orphans previously saved data.
const DefaultKey = "SavedExpenses"

var ErrDuplicateID = errors.New("duplicate expense id")

type Op string

const (
	OpAdd    Op = "add"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Change describes one applied mutation.
type Change struct {
	Op      Op
	Version uint64
	// Count is the collection size after the mutation.
	Count int
}

type Listener func(Change)

type Option func(*Store)

// WithKey overrides the blob key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLocation sets the time zone used for day grouping.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store owns the ordered expense collection. Every applied mutation is
// followed by a full rewrite of the blob; aggregates are computed on
// demand. Store is safe for concurrent use.
type Store struct {
	blobs  blob.Store
	key    string
	loc    *time.Location
	logger *log.Logger

	mu       sync.RWMutex
	items    []core.Expense
	version  uint64
	lastLoad result
	lastSave result

	lmu          sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New builds a store and loads the persisted collection. A missing,
// unreadable or undecodable blob yields an empty collection; the failure
// is logged, never returned.
func New(ctx context.Context, blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:     blobs,
		key:       DefaultKey,
		loc:       time.UTC,
		logger:    log.Discard(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentExpense)

	items, res := s.load(ctx)
	s.items = items
	s.lastLoad = res
	return s
}

// Expenses returns a copy of the collection in insertion order.
func (s *Store) Expenses() []core.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Expense(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Version increases by one after every applied mutation. Callers that
// cannot subscribe can poll it.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Location() *time.Location {
	return s.loc
}

// Add appends e and persists. A nil ID is replaced with a fresh one. An ID
// already present is rejected with ErrDuplicateID.
func (s *Store) Add(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	s.mu.Lock()
	if s.indexOf(e.ID) >= 0 {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Rejected expense with duplicate id",
			log.NewFields().WithExpense(e).WithOperation(log.OpCreate).ToSlice()...)
		return core.Expense{}, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	s.items = append(s.items, e)
	change := s.commit(ctx, OpAdd)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expense added",
		log.NewFields().WithExpense(e).WithOperation(log.OpCreate).ToSlice()...)
	s.notify(change)
	return e, nil
}

// Edit replaces the record sharing e's ID, keeping its position. It
// reports whether a record matched; an unknown ID is a no-op.
func (s *Store) Edit(ctx context.Context, e core.Expense) bool {
	s.mu.Lock()
	i := s.indexOf(e.ID)
	if i < 0 {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "Edit ignored, no expense with id", log.FieldExpenseID, e.ID.String())
		return false
	}
	s.items[i] = e
	change := s.commit(ctx, OpEdit)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Expense updated",
		log.NewFields().WithExpense(e).WithOperation(log.OpUpdate).ToSlice()...)
	s.notify(change)
	return true
}

// Delete removes the records at the given positions of the current
// collection. Positions are taken as a set against one snapshot, so
// removing 0 and 1 drops the first two records. Out-of-range positions are
// ignored. It returns how many records were removed.
func (s *Store) Delete(ctx context.Context, positions ...int) int {
	s.mu.Lock()
	removed, change := s.removeAt(ctx, positions)
	s.mu.Unlock()

	s.afterDelete(ctx, removed, change)
	return removed
}

// DeleteByID removes every record whose ID is listed and returns how many
// were removed. Unknown IDs are skipped.
func (s *Store) DeleteByID(ctx context.Context, ids ...uuid.UUID) int {
	s.mu.Lock()
	positions := make([]int, 0, len(ids))
	for _, id := range ids {
		if i := s.indexOf(id); i >= 0 {
			positions = append(positions, i)
		}
	}
	removed, change := s.removeAt(ctx, positions)
	s.mu.Unlock()

	s.afterDelete(ctx, removed, change)
	return removed
}

// removeAt drops the given positions and commits when anything changed.
// Callers hold s.mu.
func (s *Store) removeAt(ctx context.Context, positions []int) (int, Change) {
	drop := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(s.items) {
			s.logger.WarnContext(ctx, "Ignoring out of range delete position",
				"position", p, log.FieldCount, len(s.items))
			continue
		}
		drop[p] = struct{}{}
	}
	if len(drop) == 0 {
		return 0, Change{}
	}

	kept := make([]core.Expense, 0, len(s.items)-len(drop))
	for i, e := range s.items {
		if _, gone := drop[i]; !gone {
			kept = append(kept, e)
		}
	}
	s.items = kept
	return len(drop), s.commit(ctx, OpDelete)
}

func (s *Store) afterDelete(ctx context.Context, removed int, change Change) {
	if removed == 0 {
		return
	}
	s.logger.InfoContext(ctx, "Expenses deleted",
		log.FieldOperation, log.OpDelete, "removed", removed, log.FieldCount, change.Count)
	s.notify(change)
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// commit bumps the version and rewrites the blob. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, op Op) Change {
	s.version++
	s.lastSave = s.save(ctx)
	return Change{Op: op, Version: s.version, Count: len(s.items)}
}

// Subscribe registers fn to run after every applied mutation, outside the
// store lock. Concurrent mutations may deliver changes out of order;
// consumers order them by Change.Version. The returned func removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(c Change) {
	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
