package apiclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/internal/wire"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
)

// Resources and verbs of the rescue API.
const (
	ResourceRescues = "rescues"
	ResourceRats    = "rats"

	VerbCreate = "create"
	VerbRead   = "read"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// ErrNotFound is returned when a read by identifier returns no document.
var ErrNotFound = errors.New("not found")

// Call issues resource/verb with params. meta is merged into the request's
// meta.
func (s *Session) Call(ctx context.Context, resource, verb string, params, meta wire.Document) (wire.Document, error) {
	return s.Request(ctx, wire.NewRequest(resource, verb, params, meta))
}

// GetRescues returns the rescues matching criteria, keyed by field name.
// Criteria values may be plain values or convert operators.
func (s *Session) GetRescues(ctx context.Context, criteria map[string]any) ([]rescue.Rescue, error) {
	query, err := s.rescues.EncodeSearch(ctx, criteria)
	if err != nil {
		return nil, err
	}
	resp, err := s.Call(ctx, ResourceRescues, s.version.SearchVerb(), query, nil)
	if err != nil {
		return nil, err
	}
	return s.rescues.DecodeAll(ctx, wire.DataList(resp))
}

// GetRescueByID reads one rescue.
func (s *Session) GetRescueByID(ctx context.Context, id uuid.UUID) (rescue.Rescue, error) {
	resp, err := s.Call(ctx, ResourceRescues, VerbRead, wire.Document{"id": id.String()}, nil)
	if err != nil {
		return rescue.Rescue{}, err
	}
	list := wire.DataList(resp)
	if len(list) == 0 {
		return rescue.Rescue{}, fmt.Errorf("rescue %s: %w", id, ErrNotFound)
	}
	doc, ok := list[0].(map[string]any)
	if !ok {
		return rescue.Rescue{}, fmt.Errorf("rescue %s: unexpected data %T", id, list[0])
	}
	return s.rescues.Decode(ctx, doc)
}

// CreateRescue creates r and returns it as stored by the API. The local
// board index is carried over when the API does not echo it.
func (s *Session) CreateRescue(ctx context.Context, r rescue.Rescue) (rescue.Rescue, error) {
	doc, err := s.rescues.Encode(ctx, r)
	if err != nil {
		return rescue.Rescue{}, err
	}
	resp, err := s.Call(ctx, ResourceRescues, VerbCreate, wire.Document{"data": doc}, nil)
	if err != nil {
		return rescue.Rescue{}, err
	}
	list := wire.DataList(resp)
	if len(list) == 0 {
		return r, nil
	}
	created, ok := list[0].(map[string]any)
	if !ok {
		return rescue.Rescue{}, fmt.Errorf("create rescue: unexpected data %T", list[0])
	}
	out, err := s.rescues.Decode(ctx, created)
	if err != nil {
		return rescue.Rescue{}, err
	}
	if out.BoardIndex == nil && r.BoardIndex != nil {
		out.BoardIndex = r.BoardIndex
	}
	return out, nil
}

// UpdateRescue sends the full state of r. r must have an API identifier.
func (s *Session) UpdateRescue(ctx context.Context, r rescue.Rescue) error {
	if r.ID == uuid.Nil {
		return ErrMissingID
	}
	doc, err := s.rescues.Encode(ctx, r)
	if err != nil {
		return err
	}
	_, err = s.Call(ctx, ResourceRescues, VerbUpdate, wire.Document{"id": r.ID.String(), "data": doc}, nil)
	return err
}

// DeleteRescue deletes the rescue with the given identifier.
func (s *Session) DeleteRescue(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrMissingID
	}
	_, err := s.Call(ctx, ResourceRescues, VerbDelete, wire.Document{"id": id.String()}, nil)
	return err
}

// GetRats returns the rats matching criteria.
func (s *Session) GetRats(ctx context.Context, criteria map[string]any) ([]rescue.Rat, error) {
	query, err := entities.Rats.EncodeSearch(ctx, criteria)
	if err != nil {
		return nil, err
	}
	resp, err := s.Call(ctx, ResourceRats, s.version.SearchVerb(), query, nil)
	if err != nil {
		return nil, err
	}
	rats, err := entities.Rats.DecodeAll(ctx, wire.DataList(resp))
	if err != nil {
		return nil, err
	}
	s.resolver.Remember(rats...)
	return rats, nil
}

// GetRatByID reads one rat. It backs the session's rat resolver.
func (s *Session) GetRatByID(ctx context.Context, id uuid.UUID) (rescue.Rat, error) {
	resp, err := s.Call(ctx, ResourceRats, VerbRead, wire.Document{"id": id.String()}, nil)
	if err != nil {
		return rescue.Rat{}, err
	}
	list := wire.DataList(resp)
	if len(list) == 0 {
		return rescue.Rat{}, fmt.Errorf("rat %s: %w", id, ErrNotFound)
	}
	doc, ok := list[0].(map[string]any)
	if !ok {
		return rescue.Rat{}, fmt.Errorf("rat %s: unexpected data %T", id, list[0])
	}
	return entities.Rats.Decode(ctx, doc)
}
