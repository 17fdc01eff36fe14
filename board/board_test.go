package board

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

var created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRescue(client string, index int) rescue.Rescue {
	r := rescue.New(client)
	r.CreatedAt = created
	if index >= 0 {
		r = r.WithIndex(index)
	}
	return r
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) BoardChanged(_ context.Context, c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeKind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

func TestBoard_AppendIndexInUse(t *testing.T) {
	t.Parallel()

	b := New()
	if _, err := b.Append(t.Context(), newRescue("first", 2), false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := b.Append(t.Context(), newRescue("second", 2), false)
	if !errors.Is(err, ErrIndexInUse) {
		t.Fatalf("Append at occupied index = %v, want ErrIndexInUse", err)
	}
	if _, err := b.Append(t.Context(), newRescue("second", 2), true); err != nil {
		t.Fatalf("Append with overwrite: %v", err)
	}
	got, ok := b.FindByIndex(2)
	if !ok || got.Client != "second" {
		t.Fatalf("FindByIndex(2) = %+v, %v; want second", got, ok)
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
}

func TestBoard_AppendAssignsFreeIndex(t *testing.T) {
	t.Parallel()

	b := New()
	for _, i := range []int{0, 1, 3} {
		if _, err := b.Append(t.Context(), newRescue("c", i), false); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	stored, err := b.Append(t.Context(), newRescue("fresh", -1), false)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx, ok := stored.Index(); !ok || idx != 2 {
		t.Fatalf("assigned index = %d, %v; want 2", idx, ok)
	}
}

func TestBoard_ModifyRemove(t *testing.T) {
	t.Parallel()

	b := New()
	r := newRescue("client", 4)

	if err := b.Modify(t.Context(), r); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("Modify absent = %v, want ErrIndexNotFound", err)
	}
	if _, err := b.Append(t.Context(), r, false); err != nil {
		t.Fatalf("Append: %v", err)
	}
	r.System = "SOL"
	if err := b.Modify(t.Context(), r); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if got, _ := b.FindByIndex(4); got.System != "SOL" {
		t.Fatalf("Modify not applied: %+v", got)
	}
	if err := b.Remove(t.Context(), r); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := b.Remove(t.Context(), r); !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("Remove absent = %v, want ErrIndexNotFound", err)
	}
	if err := b.Remove(t.Context(), newRescue("x", -1)); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("Remove without index = %v, want ErrNoIndex", err)
	}
}

func TestBoard_Contains(t *testing.T) {
	t.Parallel()

	b := New()
	withID := newRescue("identified", 0)
	withID.ID = uuid.New()
	if _, err := b.Append(t.Context(), withID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append(t.Context(), newRescue("anonymous", 1), false); err != nil {
		t.Fatal(err)
	}

	byID := rescue.New("renamed")
	byID.ID = withID.ID

	tests := []struct {
		name string
		r    rescue.Rescue
		want bool
	}{
		{"identifier match", byID, true},
		{"client and created match", newRescue("anonymous", -1), true},
		{"client matches, created differs", func() rescue.Rescue {
			r := newRescue("anonymous", -1)
			r.CreatedAt = created.Add(time.Second)
			return r
		}(), false},
		{"unknown", newRescue("nobody", -1), false},
	}
	for _, tt := range tests {
		if got := b.Contains(tt.r); got != tt.want {
			t.Errorf("%s: Contains = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBoard_Lookups(t *testing.T) {
	t.Parallel()

	b := New()
	r := newRescue("Some Client", 7)
	r.ID = uuid.New()
	if _, err := b.Append(t.Context(), r, false); err != nil {
		t.Fatal(err)
	}

	if got, ok := b.FindByClientName("some client"); !ok || got.ID != r.ID {
		t.Errorf("FindByClientName = %+v, %v", got, ok)
	}
	if got, ok := b.FindByIdentifier(r.ID); !ok || got.Client != r.Client {
		t.Errorf("FindByIdentifier = %+v, %v", got, ok)
	}
	if _, ok := b.FindByIdentifier(uuid.Nil); ok {
		t.Error("FindByIdentifier(Nil) found a rescue")
	}
	if _, ok := b.FindByIndex(3); ok {
		t.Error("FindByIndex(3) found a rescue")
	}

	got, _ := b.FindByIndex(7)
	got.Quotes = append(got.Quotes, rescue.Quotation{Message: "mutated"})
	if again, _ := b.FindByIndex(7); len(again.Quotes) != 0 {
		t.Error("board shares state with returned rescues")
	}
}

func TestBoard_ListSortedAndClear(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := New(WithObserver(rec))
	for _, i := range []int{5, 1, 3} {
		if _, err := b.Append(t.Context(), newRescue("c", i), false); err != nil {
			t.Fatal(err)
		}
	}
	list := b.List()
	for i, want := range []int{1, 3, 5} {
		if got, _ := list[i].Index(); got != want {
			t.Fatalf("List()[%d] index = %d, want %d", i, got, want)
		}
	}
	b.Clear(t.Context())
	if b.Len() != 0 {
		t.Fatalf("Len after Clear = %d", b.Len())
	}
	kinds := rec.kinds()
	if len(kinds) != 4 || kinds[3] != Cleared {
		t.Fatalf("observed %v", kinds)
	}
}

func TestBoard_ConcurrentRemoveAndDeleteEvent(t *testing.T) {
	t.Parallel()

	for range 50 {
		b := New()
		r := newRescue("race", 0)
		r.ID = uuid.New()
		if _, err := b.Append(t.Context(), r, false); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var removeErr error
		var outcome Outcome
		wg.Add(2)
		go func() {
			defer wg.Done()
			removeErr = b.Remove(t.Context(), r)
		}()
		go func() {
			defer wg.Done()
			outcome, _ = b.ApplyDeleted(t.Context(), r)
		}()
		wg.Wait()

		// Exactly one of the two removes the case.
		removed := 0
		if removeErr == nil {
			removed++
		}
		if outcome == Dropped {
			removed++
		}
		if removed != 1 || b.Len() != 0 {
			t.Fatalf("remove err=%v outcome=%v len=%d", removeErr, outcome, b.Len())
		}
	}
}

// readingObserver reads the board on every change and records the change
// kinds seen per client.
type readingObserver struct {
	b    *Board
	mu   sync.Mutex
	seen map[string][]ChangeKind
}

func (o *readingObserver) BoardChanged(_ context.Context, c Change) {
	_ = o.b.List()
	_ = o.b.Len()
	o.mu.Lock()
	o.seen[c.Rescue.Client] = append(o.seen[c.Rescue.Client], c.Kind)
	o.mu.Unlock()
}

func TestBoard_ConcurrentMutationsWithReadingObserver(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		rounds  = 200
	)
	b := New()
	obs := &readingObserver{b: b, seen: make(map[string][]ChangeKind)}
	b.Observe(obs)

	errc := make(chan error, workers)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				r := newRescue(fmt.Sprintf("client-%d-%d", w, i), -1)
				stored, err := b.Append(t.Context(), r, false)
				if err != nil {
					errc <- err
					return
				}
				stored.System = "SOL"
				if out, err := b.ApplyUpdated(t.Context(), stored); err != nil || out != Replaced {
					errc <- fmt.Errorf("ApplyUpdated = %v, %v", out, err)
					return
				}
				if err := b.Remove(t.Context(), stored); err != nil {
					errc <- err
					return
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent mutations did not complete")
	}
	close(errc)
	for err := range errc {
		t.Fatal(err)
	}

	if b.Len() != 0 {
		t.Fatalf("Len = %d, want 0", b.Len())
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.seen) != workers*rounds {
		t.Fatalf("observed %d clients, want %d", len(obs.seen), workers*rounds)
	}
	want := []ChangeKind{Added, Modified, Removed}
	for client, kinds := range obs.seen {
		if !slices.Equal(kinds, want) {
			t.Fatalf("%s observed %v, want %v", client, kinds, want)
		}
	}
}
