// Package amqp publishes board change envelopes to a RabbitMQ topic
// exchange. Envelopes are routed by their type, e.g. board.added.v1.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuelrats/rescue-api-go/relay"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// ChannelSource opens a channel per publish.
type ChannelSource func() (Channel, error)

// Publisher implements relay.Publisher.
type Publisher struct {
	open     ChannelSource
	exchange string
	appID    string
	log      *slog.Logger
	closer   func() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// WithAppID sets the AMQP app-id property of published messages.
func WithAppID(id string) Option {
	return func(p *Publisher) { p.appID = id }
}

// NewPublisher publishes to exchange over channels from open.
func NewPublisher(open ChannelSource, exchange string, opts ...Option) *Publisher {
	p := &Publisher{open: open, exchange: exchange, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DialOptions configures Dial.
type DialOptions struct {
	URL      string
	Exchange string
	// Attempts is the number of dial attempts. Values below one dial once.
	Attempts int
	// Delay is the first backoff; it doubles per attempt up to MaxDelay.
	Delay time.Duration
}

// MaxDelay caps the dial backoff.
const MaxDelay = time.Minute

// Dial connects to the broker, declares a durable topic exchange and
// returns a Publisher owning the connection.
func Dial(ctx context.Context, o DialOptions, opts ...Option) (*Publisher, error) {
	p := NewPublisher(nil, o.Exchange, opts...)
	conn, err := dialWithRetry(ctx, o, p.log)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(o.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", o.Exchange, err)
	}

	p.open = func() (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	p.closer = conn.Close
	return p, nil
}

func dialWithRetry(ctx context.Context, o DialOptions, log *slog.Logger) (*amqp091.Connection, error) {
	attempts := max(o.Attempts, 1)
	delay := o.Delay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(o.URL)
		if err == nil {
			if i > 1 {
				log.InfoContext(ctx, "relay.amqp_connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		log.WarnContext(ctx, "relay.amqp_dial_failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", delay),
			slog.String("err", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, MaxDelay)
	}
	return nil, fmt.Errorf("failed to connect to AMQP broker after %d attempts: %w", attempts, lastErr)
}

// Publish sends env as a persistent JSON message routed by its type.
func (p *Publisher) Publish(ctx context.Context, env relay.Envelope) error {
	if p.open == nil {
		return errors.New("amqp publisher has no channel source")
	}
	if env.Meta.ID == "" {
		return errors.New("envelope has no id")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, env.Meta.Type, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.ID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         p.appID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Meta.Type, err)
	}
	p.log.DebugContext(ctx, "relay.published", slog.String("key", env.Meta.Type), slog.String("exchange", p.exchange))
	return nil
}

// Close closes the connection opened by Dial.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

var _ relay.Publisher = (*Publisher)(nil)
