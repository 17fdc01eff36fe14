// Package transport provides the duplex, message-oriented channel the API
// client runs its protocol on.
package transport

import (
	"context"
	"errors"
	"net/url"
)

// ErrClosed is returned by Read and Write once the channel is closed by
// either side.
var ErrClosed = errors.New("connection closed")

// Conn is one open duplex channel carrying whole text messages.
// Read is called from a single goroutine; Write may not be called
// concurrently.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	// Close closes the channel, telling the peer reason when the transport
	// supports it.
	Close(reason string) error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, uri string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, uri string) (Conn, error) { return f(ctx, uri) }

// URI builds the API endpoint for host. The bearer token, when present, is
// passed as a query parameter.
func URI(host, token string, secure bool) string {
	u := url.URL{Scheme: "ws", Host: host}
	if secure {
		u.Scheme = "wss"
	}
	if token != "" {
		u.Path = "/"
		u.RawQuery = url.Values{"bearer": {token}}.Encode()
	}
	return u.String()
}
