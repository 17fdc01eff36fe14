package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

// Push events that carry rescues.
const (
	EventRescueCreated = "rescueCreated"
	EventRescueUpdated = "rescueUpdated"
	EventRescueDeleted = "rescueDeleted"
)

type applyFunc func(ctx context.Context, r rescue.Rescue) (board.Outcome, error)

// AttachBoard keeps b in step with the API's rescue events. Closed rescues
// leave the board; rescues the board does not hold are appended when open.
func (s *Session) AttachBoard(b *board.Board) {
	s.Handle(EventRescueCreated, s.boardHandler(b.ApplyCreated, false))
	s.Handle(EventRescueUpdated, s.boardHandler(b.ApplyUpdated, false))
	s.Handle(EventRescueDeleted, s.boardHandler(b.ApplyDeleted, true))
}

// SyncBoard reconciles b with the rescues the API reports as not closed.
// Cases with an identifier the API no longer lists leave the board; cases
// not yet created upstream are kept.
func (s *Session) SyncBoard(ctx context.Context, b *board.Board) error {
	active, err := s.GetRescues(ctx, map[string]any{"status": convert.NoneOf(rescue.StatusClosed)})
	if err != nil {
		return fmt.Errorf("sync board: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(active))
	var errs []error
	for _, r := range active {
		seen[r.ID] = true
		if _, err := b.ApplyUpdated(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range b.List() {
		if r.ID == uuid.Nil || seen[r.ID] {
			continue
		}
		if _, err := b.ApplyDeleted(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// boardHandler decodes each rescue in an event and applies it. Rats that
// cannot be resolved are kept as references. With byID, documents that do
// not decode as full rescues are applied by identifier alone.
func (s *Session) boardHandler(apply applyFunc, byID bool) EventHandler {
	return func(ctx context.Context, ev Event) error {
		var errs []error
		for i, item := range ev.Data {
			doc, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Errorf("%s[%d]: unexpected data %T", ev.Name, i, item))
				continue
			}
			r, err := s.rescues.Decode(ctx, doc)
			if errors.Is(err, entities.ErrUnresolvedRat) {
				// Status and identity still apply; rats keep their identifiers only.
				s.log.WarnContext(ctx, "apiclient.rats_unresolved",
					slog.String("event", ev.Name), slog.String("err", err.Error()))
				r, err = entities.Rescues.Decode(ctx, doc)
			}
			if err != nil && byID {
				r, err = rescueRef(doc)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", ev.Name, i, err))
				continue
			}
			out, err := apply(ctx, r)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", ev.Name, i, err))
				continue
			}
			s.log.DebugContext(ctx, "apiclient.board_event",
				slog.String("rescue", r.ID.String()),
				slog.String("outcome", out.String()),
			)
		}
		return errors.Join(errs...)
	}
}

func rescueRef(doc map[string]any) (rescue.Rescue, error) {
	raw, _ := doc["id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return rescue.Rescue{}, fmt.Errorf("rescue reference: %w", err)
	}
	return rescue.Rescue{ID: id}, nil
}
