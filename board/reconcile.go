package board

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fuelrats/rescue-api-go/rescue"
)

// Outcome reports what a reconciliation step did.
type Outcome int

const (
	Unchanged Outcome = iota
	Appended
	Replaced
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Dropped:
		return "dropped"
	default:
		return "unchanged"
	}
}

// ApplyCreated records a rescue the API reports as created. Rescues with
// status open not yet on the board are appended; inactive and closed ones
// are ignored.
func (b *Board) ApplyCreated(ctx context.Context, r rescue.Rescue) (Outcome, error) {
	if r.Status != rescue.StatusOpen {
		return Unchanged, nil
	}
	b.mu.Lock()
	if _, ok := b.find(r); ok {
		b.mu.Unlock()
		return Unchanged, nil
	}
	stored, kind, err := b.put(r, false)
	if err != nil {
		b.mu.Unlock()
		return Unchanged, err
	}
	b.commit(ctx, Change{Kind: kind, Rescue: stored})
	return Appended, nil
}

// ApplyUpdated records a rescue the API reports as updated. Open or inactive
// rescues are appended or replace their stored copy; any other status
// removes the stored copy if present.
func (b *Board) ApplyUpdated(ctx context.Context, r rescue.Rescue) (Outcome, error) {
	b.mu.Lock()
	idx, present := b.find(r)

	if !r.Open() {
		if !present {
			b.mu.Unlock()
			return Unchanged, nil
		}
		old := b.cases[idx]
		delete(b.cases, idx)
		b.commit(ctx, Change{Kind: Removed, Rescue: old})
		return Dropped, nil
	}

	if !present {
		stored, kind, err := b.put(r, false)
		if err != nil {
			b.mu.Unlock()
			return Unchanged, err
		}
		b.commit(ctx, Change{Kind: kind, Rescue: stored})
		return Appended, nil
	}

	var changes []Change
	target := idx
	if want, ok := r.Index(); ok && want != idx {
		if _, used := b.cases[want]; used {
			b.log.WarnContext(ctx, "board.update_index_in_use",
				slog.Int("stored_index", idx), slog.Int("requested_index", want))
		} else {
			old := b.cases[idx]
			delete(b.cases, idx)
			changes = append(changes, Change{Kind: Removed, Rescue: old})
			target = want
		}
	}
	stored := r.WithIndex(target)
	b.cases[target] = stored
	if target == idx {
		changes = append(changes, Change{Kind: Modified, Rescue: stored.Clone()})
	} else {
		changes = append(changes, Change{Kind: Added, Rescue: stored.Clone()})
	}
	b.commit(ctx, changes...)
	return Replaced, nil
}

// ApplyDeleted removes a rescue the API reports as deleted. Absent rescues
// are ignored.
func (b *Board) ApplyDeleted(ctx context.Context, r rescue.Rescue) (Outcome, error) {
	b.mu.Lock()
	idx, ok := b.find(r)
	if !ok {
		b.mu.Unlock()
		return Unchanged, nil
	}
	old := b.cases[idx]
	delete(b.cases, idx)
	b.commit(ctx, Change{Kind: Removed, Rescue: old})
	return Dropped, nil
}

// Replace swaps the board's contents for rescues, e.g. when restoring a
// snapshot. Rescues without an index get the lowest free one; later
// duplicates of an index win.
func (b *Board) Replace(ctx context.Context, rescues []rescue.Rescue) error {
	for _, r := range rescues {
		if i, ok := r.Index(); ok && i < 0 {
			return fmt.Errorf("invalid board index %d", i)
		}
	}
	b.mu.Lock()
	b.cases = make(map[int]rescue.Rescue, len(rescues))
	changes := []Change{{Kind: Cleared}}
	for _, r := range rescues {
		stored, kind, err := b.put(r, true)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		changes = append(changes, Change{Kind: kind, Rescue: stored})
	}
	b.commit(ctx, changes...)
	return nil
}
