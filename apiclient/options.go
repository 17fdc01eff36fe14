package apiclient

import (
	"log/slog"
	"time"

	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/transport"
	"golang.org/x/time/rate"
)

// DefaultEventBuffer is the number of queued push events above which a
// connection warns that handlers are falling behind. The queue itself is
// unbounded so responses are never held up behind events.
const DefaultEventBuffer = 256

// Option customizes a Session.
type Option func(*Session)

// WithDialer overrides the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTimeout overrides the per-request deadline. It also bounds the wait
// for the handshake.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIDGenerator replaces the uuid request id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

// WithMetrics records session metrics. Metrics may be shared between
// sessions.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRateLimit bounds outbound requests to r per second with the given
// burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Session) {
		if r > 0 {
			s.limiter = rate.NewLimiter(r, max(burst, 1))
		}
	}
}

// WithLegacyHandshake accepts handshakes that carry no API version, logging
// a warning instead of failing the connection.
func WithLegacyHandshake(enabled bool) Option {
	return func(s *Session) { s.legacyHandshake = enabled }
}

// WithRatResolver supplies the cache used to resolve rat references. By
// default each session owns a resolver that fetches unknown rats through
// GetRatByID.
func WithRatResolver(r *entities.RatResolver) Option {
	return func(s *Session) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithEventBuffer overrides DefaultEventBuffer.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithBoard attaches b before the session first connects, so no rescue
// event can arrive ahead of the board handlers. See AttachBoard.
func WithBoard(b *board.Board) Option {
	return func(s *Session) { s.board = b }
}
