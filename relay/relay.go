// Package relay republishes board changes to downstream consumers as JSON
// envelopes.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/google/uuid"
)

// DefaultPublishTimeout bounds a single publish. Observers run while the
// board serializes notifications, so a stuck publisher must not hold it.
const DefaultPublishTimeout = 5 * time.Second

// Envelope is one published board change.
type Envelope struct {
	Meta Meta `json:"meta"`
	// Data is the rescue in its API wire shape. It is nil for Cleared.
	Data map[string]any `json:"data,omitempty"`
}

// Meta describes an envelope.
type Meta struct {
	// ID is unique per envelope.
	ID string `json:"id"`
	// Seq increases by one per change seen by a Relay.
	Seq uint64 `json:"seq"`
	// Type is the change type, e.g. board.added.v1.
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	// Index is the rescue's board index.
	Index *int `json:"index,omitempty"`
}

// TypeFor returns the envelope type of a change kind.
func TypeFor(k board.ChangeKind) string {
	return "board." + k.String() + ".v1"
}

// Publisher delivers envelopes.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, env Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Relay is a board.Observer fanning changes out to publishers. Publish
// failures are logged; they never affect the board.
type Relay struct {
	pubs     []Publisher
	log      *slog.Logger
	producer string
	timeout  time.Duration
	now      func() time.Time
	seq      atomic.Uint64
}

// Option configures a Relay.
type Option func(*Relay)

// WithPublisher adds a destination.
func WithPublisher(p Publisher) Option {
	return func(r *Relay) {
		if p != nil {
			r.pubs = append(r.pubs, p)
		}
	}
}

// WithProducer names the emitting service in every envelope.
func WithProducer(name string) Option {
	return func(r *Relay) { r.producer = name }
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Relay.
func New(opts ...Option) *Relay {
	r := &Relay{log: slog.Default(), timeout: DefaultPublishTimeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers r with b.
func (r *Relay) Attach(b *board.Board) { b.Observe(r) }

// BoardChanged implements board.Observer.
func (r *Relay) BoardChanged(ctx context.Context, c board.Change) {
	env, err := r.Envelope(ctx, c)
	if err != nil {
		r.log.ErrorContext(ctx, "relay.encode_failed", slog.String("change", c.Kind.String()), slog.String("err", err.Error()))
		return
	}
	for _, p := range r.pubs {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := p.Publish(pctx, env)
		cancel()
		if err != nil {
			r.log.ErrorContext(ctx, "relay.publish_failed",
				slog.String("type", env.Meta.Type),
				slog.Uint64("seq", env.Meta.Seq),
				slog.String("err", err.Error()),
			)
		}
	}
}

// Envelope builds the envelope for c, consuming the next sequence number.
func (r *Relay) Envelope(ctx context.Context, c board.Change) (Envelope, error) {
	env := Envelope{Meta: Meta{
		ID:       uuid.NewString(),
		Seq:      r.seq.Add(1),
		Type:     TypeFor(c.Kind),
		Producer: r.producer,
		Time:     r.now().UTC(),
	}}
	if c.Kind == board.Cleared {
		return env, nil
	}
	if idx, ok := c.Rescue.Index(); ok {
		env.Meta.Index = &idx
	}
	doc, err := entities.Rescues.Encode(ctx, c.Rescue)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode rescue: %w", err)
	}
	env.Data = doc
	return env, nil
}
