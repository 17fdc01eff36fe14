// Package transporttest provides an in-memory transport for exercising the
// API client against scripted servers.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fuelrats/rescue-api-go/transport"
)

const bufferSize = 256

type pipe struct {
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

func (p *pipe) close(reason string) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.reason = reason
		p.mu.Unlock()
		close(p.done)
	})
}

// Conn is one end of an in-memory channel.
type Conn struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe returns two connected ends.
func Pipe() (client, server *Conn) {
	p := &pipe{done: make(chan struct{})}
	a := make(chan []byte, bufferSize)
	b := make(chan []byte, bufferSize)
	return &Conn{p: p, in: a, out: b}, &Conn{p: p, in: b, out: a}
}

// Read returns the next message written by the peer. Messages already
// buffered are returned before ErrClosed.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.p.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Write(ctx context.Context, msg []byte) error {
	select {
	case <-c.p.done:
		return transport.ErrClosed
	default:
	}
	select {
	case c.out <- append([]byte(nil), msg...):
		return nil
	case <-c.p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Close(reason string) error {
	c.p.close(reason)
	return nil
}

// Closed reports whether either end closed the channel.
func (c *Conn) Closed() bool {
	select {
	case <-c.p.done:
		return true
	default:
		return false
	}
}

// Done is closed once either end closes the channel.
func (c *Conn) Done() <-chan struct{} { return c.p.done }

// CloseReason returns the reason given to Close.
func (c *Conn) CloseReason() string {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.p.reason
}

// WriteJSON marshals doc and writes it.
func (c *Conn) WriteJSON(ctx context.Context, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.Write(ctx, b)
}

// ReadJSON reads the next message as a JSON object.
func (c *Conn) ReadJSON(ctx context.Context) (map[string]any, error) {
	b, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ServeFunc runs the server side of one dialed connection.
type ServeFunc func(ctx context.Context, conn *Conn)

// Dialer hands out in-memory connections whose server end runs Serve.
type Dialer struct {
	Serve ServeFunc

	mu      sync.Mutex
	uris    []string
	servers []*Conn
	wg      sync.WaitGroup
}

// NewDialer returns a Dialer serving every connection with serve.
func NewDialer(serve ServeFunc) *Dialer {
	return &Dialer{Serve: serve}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, uri string) (transport.Conn, error) {
	client, server := Pipe()
	d.mu.Lock()
	d.uris = append(d.uris, uri)
	d.servers = append(d.servers, server)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Serve(context.WithoutCancel(ctx), server)
	}()
	return client, nil
}

// URIs returns every URI dialed so far.
func (d *Dialer) URIs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uris...)
}

// Server returns the server end of the i-th dialed connection.
func (d *Dialer) Server(i int) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.servers[i]
}

// Wait blocks until every Serve call has returned.
func (d *Dialer) Wait() { d.wg.Wait() }

// Handshake returns the server's greeting for version. An empty version
// omits the field.
func Handshake(version string) map[string]any {
	meta := map[string]any{}
	if version != "" {
		meta["API-Version"] = version
	}
	return map[string]any{"meta": meta}
}

// Reply builds a response to req carrying data.
func Reply(req map[string]any, data any) map[string]any {
	meta, _ := req["meta"].(map[string]any)
	return map[string]any{
		"data": data,
		"meta": map[string]any{"request_id": meta["request_id"]},
	}
}

// Event builds a push event.
func Event(name string, data ...any) map[string]any {
	if data == nil {
		data = []any{}
	}
	return map[string]any{
		"data": data,
		"meta": map[string]any{"event": name},
	}
}

// Action returns the resource and verb of a request.
func Action(req map[string]any) (resource, verb string) {
	action, _ := req["action"].([]any)
	if len(action) == 2 {
		resource, _ = action[0].(string)
		verb, _ = action[1].(string)
	}
	return resource, verb
}
