// Package snapshot persists the board to a storage backend so a restarted
// client can resume with the cases it was tracking.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/fuelrats/rescue-api-go/storage"
	"github.com/google/uuid"
)

// DefaultKey is the storage key snapshots are written under.
const DefaultKey = "board"

// document is the stored form: rescues in their wire shape plus the rats
// they reference, so rat details survive the round trip.
type document struct {
	SavedAt time.Time        `json:"saved_at"`
	Rescues []map[string]any `json:"rescues"`
	Rats    []map[string]any `json:"rats,omitempty"`
}

// Snapshotter saves and restores boards for one API host.
type Snapshotter struct {
	store storage.Storage
	host  string
	key   string
	ttl   time.Duration
	log   *slog.Logger

	board *board.Board
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Snapshotter) {
		if key != "" {
			s.key = key
		}
	}
}

// WithTTL expires snapshots that were not refreshed within ttl.
func WithTTL(ttl time.Duration) Option { return func(s *Snapshotter) { s.ttl = ttl } }

// WithLogger sets the logger used for failed saves.
func WithLogger(l *slog.Logger) Option {
	return func(s *Snapshotter) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a Snapshotter storing under host's namespace.
func New(store storage.Storage, host string, opts ...Option) *Snapshotter {
	s := &Snapshotter{store: store, host: host, key: DefaultKey, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Snapshotter) storageOpts() []storage.Option {
	opts := []storage.Option{storage.WithHost(s.host)}
	if s.ttl > 0 {
		opts = append(opts, storage.WithTTL(s.ttl))
	}
	return opts
}

// Save writes rescues as the current snapshot.
func (s *Snapshotter) Save(ctx context.Context, rescues []rescue.Rescue) error {
	doc := document{SavedAt: time.Now().UTC(), Rescues: make([]map[string]any, 0, len(rescues))}
	seen := make(map[uuid.UUID]bool)
	for _, r := range rescues {
		wire, err := entities.Rescues.Encode(ctx, r)
		if err != nil {
			return fmt.Errorf("encode rescue %q: %w", r.Client, err)
		}
		doc.Rescues = append(doc.Rescues, wire)
		for _, rat := range r.Rats {
			if seen[rat.ID] {
				continue
			}
			seen[rat.ID] = true
			ratDoc, err := entities.Rats.Encode(ctx, rat)
			if err != nil {
				return fmt.Errorf("encode rat %s: %w", rat.ID, err)
			}
			doc.Rats = append(doc.Rats, ratDoc)
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.store.Set(ctx, s.key, raw, s.storageOpts()...)
}

// Load reads the current snapshot. A missing snapshot yields no rescues.
func (s *Snapshotter) Load(ctx context.Context) ([]rescue.Rescue, error) {
	item, err := s.store.Get(ctx, s.key, storage.WithHost(s.host))
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	var doc document
	if err := json.Unmarshal(item.Data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	resolver, err := entities.NewRatResolver(len(doc.Rats), nil)
	if err != nil {
		return nil, err
	}
	for i, raw := range doc.Rats {
		rat, err := entities.Rats.Decode(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("decode rat %d: %w", i, err)
		}
		resolver.Remember(rat)
	}
	conv := entities.NewRescueConverter(resolver)
	out := make([]rescue.Rescue, 0, len(doc.Rescues))
	for i, raw := range doc.Rescues {
		r, err := conv.Decode(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("decode rescue %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Restore replaces b's contents with the stored snapshot, if any.
func (s *Snapshotter) Restore(ctx context.Context, b *board.Board) (int, error) {
	rescues, err := s.Load(ctx)
	if err != nil || len(rescues) == 0 {
		return 0, err
	}
	if err := b.Replace(ctx, rescues); err != nil {
		return 0, err
	}
	return len(rescues), nil
}

// Attach saves a fresh snapshot of b after every change.
func (s *Snapshotter) Attach(b *board.Board) {
	s.board = b
	b.Observe(s)
}

// BoardChanged implements board.Observer.
func (s *Snapshotter) BoardChanged(ctx context.Context, c board.Change) {
	if s.board == nil {
		return
	}
	if err := s.Save(ctx, s.board.List()); err != nil {
		s.log.ErrorContext(ctx, "snapshot.save_failed",
			slog.String("change", c.Kind.String()), slog.String("err", err.Error()))
	}
}
