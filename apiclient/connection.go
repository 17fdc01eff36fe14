package apiclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fuelrats/rescue-api-go/internal/logctx"
	"github.com/fuelrats/rescue-api-go/internal/outbound"
	"github.com/fuelrats/rescue-api-go/internal/wire"
	"github.com/fuelrats/rescue-api-go/transport"
)

// connection is one open channel. A reconnect builds a new connection, so
// the dispatcher and event queue of an old channel never see new traffic.
type connection struct {
	conn     transport.Conn
	endpoint Endpoint
	disp     *outbound.Dispatcher
	events   *eventQueue

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	// readDone is closed when the dispatch loop exits.
	readDone chan struct{}
}

func (s *Session) newConnection(conn transport.Conn, ep Endpoint) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Host: ep.Host, Version: s.version.Token, State: StateOpen.String()})
	c := &connection{
		conn:     conn,
		endpoint: ep,
		events:   newEventQueue(),
		ctx:      ctx,
		cancel:   cancel,
		readDone: make(chan struct{}),
	}
	c.disp = outbound.New(c,
		outbound.WithTimeout(s.timeout),
		outbound.WithIDGenerator(s.newID),
		outbound.WithLogger(s.log),
	)
	return c
}

// Send writes one document. Writes are serialized per connection.
func (c *connection) Send(ctx context.Context, doc wire.Document) error {
	b, err := wire.Marshal(doc)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, b); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

func (c *connection) shutdown(err error, reason string) {
	c.closeOnce.Do(func() {
		c.disp.Close(err)
		c.cancel()
		_ = c.conn.Close(reason)
	})
}

func (s *Session) run(c *connection) {
	go s.readLoop(c)
	go s.eventLoop(c)
}

// readLoop is the single reader of a connection. It never blocks on a
// handler: events go to the queue drained by eventLoop.
func (s *Session) readLoop(c *connection) {
	defer close(c.readDone)
	defer c.events.close()
	for {
		raw, err := c.conn.Read(c.ctx)
		if err != nil {
			s.lost(c, err)
			return
		}
		doc, err := wire.Parse(raw)
		if err != nil {
			s.metrics.message("malformed")
			s.log.ErrorContext(c.ctx, "apiclient.malformed_message", slog.String("err", err.Error()))
			continue
		}
		s.route(c, doc)
	}
}

func (s *Session) route(c *connection, doc wire.Document) {
	kind := wire.Classify(doc, c.disp.Awaiting)
	s.metrics.message(kind.String())
	switch kind {
	case wire.KindResponse, wire.KindUnexpected:
		c.disp.OnResponse(c.ctx, doc)
	case wire.KindError:
		code, _ := wire.Code(doc)
		s.log.ErrorContext(c.ctx, "apiclient.server_error", slog.String("code", code))
	case wire.KindEvent:
		name, _ := wire.Event(doc)
		ev := Event{Name: name, Data: wire.DataList(doc), Doc: doc}
		if n := c.events.push(ev); n == s.eventBuffer+1 {
			s.log.WarnContext(c.ctx, "apiclient.event_backlog", slog.Int("queued", n))
		}
	default:
		s.log.ErrorContext(c.ctx, "apiclient.unrecognized_message")
	}
}

// eventLoop runs handlers one at a time in arrival order.
func (s *Session) eventLoop(c *connection) {
	for {
		ev, ok := c.events.pop()
		if !ok {
			return
		}
		s.dispatchEvent(c.ctx, ev)
	}
}

func (s *Session) dispatchEvent(ctx context.Context, ev Event) {
	ctx = logctx.WithEventData(ctx, &logctx.EventData{Name: ev.Name})
	h := s.handler(ev.Name)
	if h == nil {
		s.metrics.event(ev.Name, "unhandled")
		s.log.WarnContext(ctx, "apiclient.unhandled_event")
		return
	}
	if err := h(ctx, ev); err != nil {
		s.metrics.event(ev.Name, "error")
		s.log.ErrorContext(ctx, "apiclient.event_failed", slog.String("err", err.Error()))
		return
	}
	s.metrics.event(ev.Name, "ok")
}

// lost handles a read failure. A connection that was already replaced or
// disconnected is only torn down.
func (s *Session) lost(c *connection, err error) {
	s.mu.Lock()
	current := s.cur == c
	if current {
		s.cur = nil
		s.transition(StateDisconnected)
	}
	s.mu.Unlock()

	c.shutdown(ErrNotConnected, "")
	if current {
		s.metrics.setConnected(false)
		s.log.WarnContext(c.ctx, "apiclient.connection_lost", slog.String("err", err.Error()))
	}
}

// eventQueue is an unbounded FIFO between the read loop and the event
// worker. It has a single consumer.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

// push appends ev and returns the queue length.
func (q *eventQueue) push(ev Event) int {
	q.mu.Lock()
	q.items = append(q.items, ev)
	n := len(q.items)
	q.mu.Unlock()
	q.signal()
	return n
}

// close lets pop return false once the queue is drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an event is queued. It returns false when the queue is
// closed and empty.
func (q *eventQueue) pop() (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-q.ready
	}
}
