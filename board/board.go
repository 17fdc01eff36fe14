// Package board keeps the index-addressed registry of active rescues.
//
// The board is mutated by local commands and by API push events. All
// mutations are serialized by a single mutex. Changes are queued under it
// and delivered to observers in mutation order after it is released, so
// observers may read the board.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

var (
	// ErrIndexInUse is returned when appending at an occupied index without
	// overwrite.
	ErrIndexInUse = errors.New("board index in use")
	// ErrIndexNotFound is returned when no rescue occupies the addressed index.
	ErrIndexNotFound = errors.New("board index not found")
	// ErrNoIndex is returned when a rescue without a board index is modified
	// or removed.
	ErrNoIndex = errors.New("rescue has no board index")
)

// ChangeKind describes a board mutation.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
	Cleared
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is delivered to observers after every mutation. Rescue is the
// stored value; for Removed it is the value that was removed. Cleared
// carries no rescue.
type Change struct {
	Kind   ChangeKind
	Rescue rescue.Rescue
}

// Observer is notified of board changes. Observers may read the board but
// must not mutate it; a read may already reflect later changes.
type Observer interface {
	BoardChanged(ctx context.Context, c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, c Change)

func (f ObserverFunc) BoardChanged(ctx context.Context, c Change) { f(ctx, c) }

// Board is the registry. The zero value is not usable; use New.
type Board struct {
	log *slog.Logger

	mu    sync.Mutex
	cases map[int]rescue.Rescue
	// pending holds changes not yet delivered, in mutation order.
	pending []notification

	// notifyMu is held by the goroutine delivering pending changes. It is
	// never acquired while mu is held.
	notifyMu  sync.Mutex
	observers []Observer
}

type notification struct {
	ctx    context.Context
	change Change
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the board's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Board) {
		if l != nil {
			b.log = l
		}
	}
}

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option {
	return func(b *Board) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// New returns an empty board.
func New(opts ...Option) *Board {
	b := &Board{log: slog.Default(), cases: make(map[int]rescue.Rescue)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Observe registers o for subsequent changes.
func (b *Board) Observe(o Observer) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.observers = append(b.observers, o)
}

// commit queues changes, releases mu and delivers everything pending.
// Callers hold mu. When commit returns, changes have reached every
// observer.
func (b *Board) commit(ctx context.Context, changes ...Change) {
	for _, c := range changes {
		b.pending = append(b.pending, notification{ctx: ctx, change: c})
	}
	b.mu.Unlock()
	b.deliver()
}

// deliver drains pending until it is empty. A goroutine that finds another
// one delivering waits for it; the other drains this goroutine's changes too.
func (b *Board) deliver() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	for {
		b.mu.Lock()
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			for _, o := range b.observers {
				o.BoardChanged(n.ctx, n.change)
			}
		}
	}
}

// freeIndex returns the lowest unoccupied index. Callers hold mu.
func (b *Board) freeIndex() int {
	for i := 0; ; i++ {
		if _, ok := b.cases[i]; !ok {
			return i
		}
	}
}

// find returns the index of the stored case matching r. Callers hold mu.
func (b *Board) find(r rescue.Rescue) (int, bool) {
	for i, c := range b.cases {
		if c.SameCase(r) {
			return i, true
		}
	}
	return 0, false
}

func (b *Board) put(r rescue.Rescue, overwrite bool) (rescue.Rescue, ChangeKind, error) {
	idx, ok := r.Index()
	if !ok {
		idx = b.freeIndex()
	}
	if idx < 0 {
		return rescue.Rescue{}, 0, fmt.Errorf("invalid board index %d", idx)
	}
	kind := Added
	if _, used := b.cases[idx]; used {
		if !overwrite {
			return rescue.Rescue{}, 0, fmt.Errorf("%w: %d", ErrIndexInUse, idx)
		}
		kind = Modified
	}
	stored := r.WithIndex(idx)
	b.cases[idx] = stored
	return stored.Clone(), kind, nil
}

// Append stores r at its board index, assigning the lowest free index when r
// has none. It fails with ErrIndexInUse when the index is occupied and
// overwrite is false. The stored rescue is returned.
func (b *Board) Append(ctx context.Context, r rescue.Rescue, overwrite bool) (rescue.Rescue, error) {
	b.mu.Lock()
	stored, kind, err := b.put(r, overwrite)
	if err != nil {
		b.mu.Unlock()
		return rescue.Rescue{}, err
	}
	b.commit(ctx, Change{Kind: kind, Rescue: stored})
	return stored, nil
}

// Modify replaces the rescue stored at r's index.
func (b *Board) Modify(ctx context.Context, r rescue.Rescue) error {
	idx, ok := r.Index()
	if !ok {
		return ErrNoIndex
	}
	b.mu.Lock()
	if _, used := b.cases[idx]; !used {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexNotFound, idx)
	}
	stored := r.Clone()
	b.cases[idx] = stored
	b.commit(ctx, Change{Kind: Modified, Rescue: stored.Clone()})
	return nil
}

// Remove deletes the rescue stored at r's index.
func (b *Board) Remove(ctx context.Context, r rescue.Rescue) error {
	idx, ok := r.Index()
	if !ok {
		return ErrNoIndex
	}
	b.mu.Lock()
	old, used := b.cases[idx]
	if !used {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexNotFound, idx)
	}
	delete(b.cases, idx)
	b.commit(ctx, Change{Kind: Removed, Rescue: old})
	return nil
}

// Clear empties the board.
func (b *Board) Clear(ctx context.Context) {
	b.mu.Lock()
	b.log.WarnContext(ctx, "board.clear", slog.Int("cases", len(b.cases)))
	b.cases = make(map[int]rescue.Rescue)
	b.commit(ctx, Change{Kind: Cleared})
}

// FindByIndex returns the rescue at index.
func (b *Board) FindByIndex(index int) (rescue.Rescue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.cases[index]
	if !ok {
		return rescue.Rescue{}, false
	}
	return r.Clone(), true
}

// FindByClientName returns the rescue for client, compared case-insensitively.
// With several matches the lowest index wins.
func (b *Board) FindByClientName(client string) (rescue.Rescue, bool) {
	return b.first(func(r rescue.Rescue) bool { return strings.EqualFold(r.Client, client) })
}

// FindByIdentifier returns the rescue with the given API identifier.
func (b *Board) FindByIdentifier(id uuid.UUID) (rescue.Rescue, bool) {
	if id == uuid.Nil {
		return rescue.Rescue{}, false
	}
	return b.first(func(r rescue.Rescue) bool { return r.ID == id })
}

func (b *Board) first(match func(rescue.Rescue) bool) (rescue.Rescue, bool) {
	for _, r := range b.List() {
		if match(r) {
			return r, true
		}
	}
	return rescue.Rescue{}, false
}

// Contains reports whether any stored rescue is the same case as r.
func (b *Board) Contains(r rescue.Rescue) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.find(r)
	return ok
}

// List returns copies of all stored rescues ordered by index.
func (b *Board) List() []rescue.Rescue {
	b.mu.Lock()
	out := make([]rescue.Rescue, 0, len(b.cases))
	for _, r := range b.cases {
		out = append(out, r.Clone())
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(a, c rescue.Rescue) int { return *a.BoardIndex - *c.BoardIndex })
	return out
}

// Len returns the number of stored rescues.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cases)
}
