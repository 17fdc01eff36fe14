package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuelrats/rescue-api-go/internal/logctx"
	"github.com/fuelrats/rescue-api-go/internal/wire"
	"github.com/google/uuid"
)

// DefaultTimeout bounds how long a call waits for its response.
const DefaultTimeout = 6 * time.Second

// Transport writes a fully formed request document to the peer.
// Implementations must serialize concurrent writes.
type Transport interface {
	Send(ctx context.Context, doc wire.Document) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, doc wire.Document) error

func (f TransportFunc) Send(ctx context.Context, doc wire.Document) error { return f(ctx, doc) }

var (
	// ErrDispatcherClosed indicates the dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("request timed out")
)

// TimeoutError reports a call whose response did not arrive in time.
type TimeoutError struct {
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("API took longer than %s to respond to request %s", e.After, e.RequestID)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type pendingCall struct {
	created   time.Time
	delivered bool
	respCh    chan wire.Document
	errCh     chan error
}

// Dispatcher correlates requests with their responses by request id. A
// response is delivered to exactly one caller; a response for a call that
// already timed out is logged and discarded.
type Dispatcher struct {
	t       Transport
	log     *slog.Logger
	timeout time.Duration
	newID   func() string

	mu sync.Mutex
	// pending holds calls awaiting a response and calls whose response has
	// been delivered but not yet collected.
	pending map[string]*pendingCall
	// expired remembers timed-out ids so late responses can be told apart
	// from ids that were never issued.
	expired map[string]time.Time

	closed   atomic.Bool
	closeErr error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithIDGenerator replaces the random uuid request id source.
func WithIDGenerator(fn func() string) Option {
	return func(ds *Dispatcher) {
		if fn != nil {
			ds.newID = fn
		}
	}
}

// WithLogger sets the logger used for unmatched and late responses.
func WithLogger(l *slog.Logger) Option {
	return func(ds *Dispatcher) {
		if l != nil {
			ds.log = l
		}
	}
}

// New constructs a Dispatcher using the provided transport.
func New(t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		t:       t,
		log:     slog.Default(),
		timeout: DefaultTimeout,
		newID:   func() string { return uuid.NewString() },
		pending: make(map[string]*pendingCall),
		expired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the per-call deadline.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

func (d *Dispatcher) closedErr() error {
	if d.closeErr != nil {
		return d.closeErr
	}
	return ErrDispatcherClosed
}

// register allocates an id unused by any pending, uncollected or recently
// expired call. Callers hold d.mu.
func (d *Dispatcher) register(pc *pendingCall) string {
	for {
		id := d.newID()
		if _, ok := d.pending[id]; ok {
			continue
		}
		if _, ok := d.expired[id]; ok {
			continue
		}
		d.pending[id] = pc
		return id
	}
}

// Call stamps doc with a fresh request id, sends it and waits for the
// matching response, the per-call deadline, ctx cancellation or Close.
func (d *Dispatcher) Call(ctx context.Context, doc wire.Document) (wire.Document, error) {
	if d.closed.Load() {
		return nil, d.closedErr()
	}

	pc := &pendingCall{
		created: time.Now(),
		respCh:  make(chan wire.Document, 1),
		errCh:   make(chan error, 1),
	}
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return nil, d.closedErr()
	}
	id := d.register(pc)
	d.mu.Unlock()

	wire.SetRequestID(doc, id)
	ctx = logctx.WithRequestData(ctx, requestData(id, doc))

	if err := d.t.Send(ctx, doc); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case resp := <-pc.respCh:
		d.collect(id)
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-timer.C:
		if resp, ok := d.expire(id, pc); ok {
			return resp, nil
		}
		d.log.WarnContext(ctx, "outbound.timeout", slog.Duration("waited", time.Since(pc.created)))
		return nil, &TimeoutError{RequestID: id, After: d.timeout}
	case <-ctx.Done():
		if resp, ok := d.expire(id, pc); ok {
			return resp, nil
		}
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) collect(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// expire unregisters a call that gave up waiting. If the response was
// delivered concurrently it is returned instead.
func (d *Dispatcher) expire(id string, pc *pendingCall) (wire.Document, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	if pc.delivered {
		select {
		case resp := <-pc.respCh:
			return resp, true
		default:
		}
	}
	now := time.Now()
	d.expired[id] = now
	d.pruneExpired(now)
	return nil, false
}

// pruneExpired forgets expired ids old enough that no late response is
// plausible. Callers hold d.mu.
func (d *Dispatcher) pruneExpired(now time.Time) {
	horizon := now.Add(-10 * d.timeout)
	for id, at := range d.expired {
		if at.Before(horizon) {
			delete(d.expired, id)
		}
	}
}

// Awaiting reports whether a caller is still waiting on id.
func (d *Dispatcher) Awaiting(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc, ok := d.pending[id]
	return ok && !pc.delivered
}

// Pending returns the number of calls still waiting for a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, pc := range d.pending {
		if !pc.delivered {
			n++
		}
	}
	return n
}

// OnResponse delivers an incoming response to its waiting call. It reports
// whether the response was delivered; late and unmatched responses are
// logged and dropped.
func (d *Dispatcher) OnResponse(ctx context.Context, resp wire.Document) bool {
	id, ok := wire.RequestID(resp)
	if !ok {
		return false
	}
	d.mu.Lock()
	pc, found := d.pending[id]
	if found && !pc.delivered {
		pc.delivered = true
		pc.respCh <- resp
		d.mu.Unlock()
		return true
	}
	_, late := d.expired[id]
	if late {
		delete(d.expired, id)
	}
	d.mu.Unlock()

	if late {
		d.log.WarnContext(ctx, "outbound.late_response", slog.String("request_id", id))
	} else {
		d.log.WarnContext(ctx, "outbound.unexpected_response", slog.String("request_id", id))
	}
	return false
}

// Close fails all pending calls with the provided error and prevents new calls.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return
	}
	d.closeErr = err
	d.closed.Store(true)
	for key, pc := range d.pending {
		if pc.delivered {
			continue
		}
		delete(d.pending, key)
		pc.errCh <- err
	}
}

func requestData(id string, doc wire.Document) *logctx.RequestData {
	rd := &logctx.RequestData{RequestID: id}
	if action, ok := doc[wire.KeyAction].([]any); ok && len(action) == 2 {
		rd.Resource, _ = action[0].(string)
		rd.Verb, _ = action[1].(string)
	}
	return rd
}
