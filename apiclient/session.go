package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/internal/bearer"
	"github.com/fuelrats/rescue-api-go/internal/logctx"
	"github.com/fuelrats/rescue-api-go/internal/outbound"
	"github.com/fuelrats/rescue-api-go/internal/wire"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/fuelrats/rescue-api-go/transport"
	"golang.org/x/time/rate"
)

// Endpoint is where a session connects and the credentials it presents.
type Endpoint struct {
	Host   string
	Token  string
	Secure bool
}

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	closeMismatchedVersion = "Mismatched version"
	closeBadHandshake      = "Bad handshake"
	closeDisconnect        = "Disconnecting"
)

// Session is a versioned connection to the rescue API. It is safe for
// concurrent use. A Session can be connected again after it disconnects.
type Session struct {
	version         Version
	dialer          transport.Dialer
	log             *slog.Logger
	timeout         time.Duration
	newID           func() string
	metrics         *Metrics
	limiter         *rate.Limiter
	legacyHandshake bool
	eventBuffer     int
	resolver        *entities.RatResolver
	rescues         *convert.Converter[rescue.Rescue]
	board           *board.Board

	handlersMu sync.RWMutex
	handlers   map[string]EventHandler

	mu       sync.Mutex
	state    State
	// stateCh is closed and replaced on every state change.
	stateCh  chan struct{}
	endpoint Endpoint
	cur      *connection
	// attempt increments on every Connect and on every Disconnect that
	// aborts a Connect in progress.
	attempt uint64
	abort   context.CancelFunc
}

// New creates a disconnected session speaking version v.
func New(ep Endpoint, v Version, opts ...Option) *Session {
	s := &Session{
		version:     v,
		endpoint:    ep,
		dialer:      &transport.WebsocketDialer{},
		log:         slog.Default(),
		timeout:     outbound.DefaultTimeout,
		eventBuffer: DefaultEventBuffer,
		handlers:    make(map[string]EventHandler),
		stateCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logctx.Wrap(s.log)
	if s.resolver == nil {
		// A non-positive size falls back to the default and cannot fail.
		s.resolver, _ = entities.NewRatResolver(entities.DefaultResolverSize, nil)
		s.resolver.SetFetcher(entities.RatFetcherFunc(s.GetRatByID))
	}
	s.rescues = entities.NewRescueConverter(s.resolver)
	if s.board != nil {
		s.AttachBoard(s.board)
	}
	return s
}

// Version returns the API version the session speaks.
func (s *Session) Version() Version { return s.version }

// Timeout returns the per-request deadline.
func (s *Session) Timeout() time.Duration { return s.timeout }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint used by the next Connect.
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Closed returns a channel closed when the current connection ends. Without
// an open connection the returned channel is already closed.
func (s *Session) Closed() <-chan struct{} {
	if c := s.current(); c != nil {
		return c.readDone
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Changed returns a channel closed at the next state change.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateCh
}

// transition sets the state. Callers hold mu.
func (s *Session) transition(st State) {
	if s.state == st {
		return
	}
	s.state = st
	close(s.stateCh)
	s.stateCh = make(chan struct{})
}

func (s *Session) current() *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil
	}
	return s.cur
}

func (s *Session) setState(attempt uint64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == attempt {
		s.transition(st)
	}
}

// Connect dials the endpoint and validates the server's handshake. A
// server announcing another API version is refused with a
// *VersionMismatchError after the channel is closed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.transition(StateConnecting)
	s.attempt++
	attempt := s.attempt
	ep := s.endpoint
	actx, abort := context.WithCancel(ctx)
	s.abort = abort
	s.mu.Unlock()
	defer abort()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Host: ep.Host, Version: s.version.Token, State: StateConnecting.String()})
	c, err := s.open(actx, attempt, ep)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		if c != nil {
			c.shutdown(ErrNotConnected, closeDisconnect)
		}
		s.metrics.connect("aborted")
		if err == nil {
			err = ErrNotConnected
		}
		return err
	}
	s.abort = nil
	if err != nil {
		s.transition(StateDisconnected)
		s.metrics.connect("failed")
		s.log.WarnContext(ctx, "apiclient.connect_failed", slog.String("err", err.Error()))
		return err
	}
	s.cur = c
	s.transition(StateOpen)
	s.metrics.connect("ok")
	s.metrics.setConnected(true)
	s.run(c)
	s.log.InfoContext(c.ctx, "apiclient.connected")
	return nil
}

func (s *Session) open(ctx context.Context, attempt uint64, ep Endpoint) (*connection, error) {
	if ep.Token != "" {
		if _, err := bearer.Check(ep.Token, time.Now()); err != nil {
			s.log.WarnContext(ctx, "apiclient.token_check", slog.String("err", err.Error()))
		}
	}
	conn, err := s.dialer.Dial(ctx, transport.URI(ep.Host, ep.Token, ep.Secure))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep.Host, err)
	}
	s.setState(attempt, StateHandshaking)

	hctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := conn.Read(hctx)
	if err != nil {
		_ = conn.Close(closeBadHandshake)
		return nil, &ProtocolError{Reason: "no handshake received", Err: err}
	}
	doc, err := wire.Parse(raw)
	if err != nil {
		_ = conn.Close(closeBadHandshake)
		return nil, &ProtocolError{Reason: "malformed handshake", Err: err}
	}
	got, ok := wire.Version(doc)
	switch {
	case !ok && s.legacyHandshake:
		s.log.WarnContext(ctx, "apiclient.handshake_without_version")
	case !ok:
		_ = conn.Close(closeBadHandshake)
		return nil, &ProtocolError{Reason: "handshake carries no API version"}
	case got != s.version.Token:
		_ = conn.Close(closeMismatchedVersion)
		return nil, &VersionMismatchError{Client: s.version.Token, Server: got}
	}
	return s.newConnection(conn, ep), nil
}

// Disconnect closes the connection. Requests still waiting fail with
// ErrNotConnected. Disconnecting a session that is not connected returns
// ErrNotConnected. Events already queued still reach their handlers.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return ErrNotConnected
	case StateConnecting, StateHandshaking:
		s.attempt++
		s.transition(StateDisconnected)
		abort := s.abort
		s.abort = nil
		s.mu.Unlock()
		if abort != nil {
			abort()
		}
		return nil
	}
	c := s.cur
	s.cur = nil
	s.transition(StateDisconnected)
	s.mu.Unlock()

	c.shutdown(ErrNotConnected, closeDisconnect)
	s.metrics.setConnected(false)
	s.log.InfoContext(c.ctx, "apiclient.disconnected")
	select {
	case <-c.readDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure replaces the endpoint. An open session reconnects when the
// endpoint changed; otherwise the new endpoint is used by the next Connect.
func (s *Session) Reconfigure(ctx context.Context, ep Endpoint) error {
	s.mu.Lock()
	changed := ep != s.endpoint
	s.endpoint = ep
	open := s.state == StateOpen
	s.mu.Unlock()
	if !changed || !open {
		return nil
	}
	s.log.InfoContext(ctx, "apiclient.reconfigure", slog.String("host", ep.Host))
	if err := s.Disconnect(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return s.Connect(ctx)
}

// Request sends doc and waits for the correlated response. Any request_id
// already in doc's meta is replaced. Error codes in the response are
// returned as *ServerError.
func (s *Session) Request(ctx context.Context, doc wire.Document) (wire.Document, error) {
	c := s.current()
	if c == nil {
		return nil, ErrNotConnected
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	resource, verb := action(doc)
	start := time.Now()
	resp, err := c.disp.Call(ctx, doc)
	if err != nil {
		result := "error"
		if errors.Is(err, outbound.ErrTimeout) {
			result = "timeout"
		}
		s.metrics.request(resource, verb, result, time.Since(start))
		return nil, err
	}
	if code, ok := wire.Code(resp); ok {
		if se := serverError(code, resp); se != nil {
			s.metrics.request(resource, verb, "server_error", time.Since(start))
			return nil, se
		}
		s.log.WarnContext(ctx, "apiclient.unknown_error_code", slog.String("code", code))
	}
	s.metrics.request(resource, verb, "ok", time.Since(start))
	s.rememberIncluded(ctx, resp)
	return resp, nil
}

// rememberIncluded seeds the rat cache from a response's included rats.
func (s *Session) rememberIncluded(ctx context.Context, resp wire.Document) {
	for _, item := range wire.Included(resp) {
		doc, ok := item.(map[string]any)
		if !ok || doc["type"] != entities.RatType {
			continue
		}
		rat, err := entities.Rats.Decode(ctx, doc)
		if err != nil {
			s.log.DebugContext(ctx, "apiclient.included_rat", slog.String("err", err.Error()))
			continue
		}
		s.resolver.Remember(rat)
	}
}

func action(doc wire.Document) (resource, verb string) {
	switch a := doc[wire.KeyAction].(type) {
	case []any:
		if len(a) == 2 {
			resource, _ = a[0].(string)
			verb, _ = a[1].(string)
		}
	case []string:
		if len(a) == 2 {
			resource, verb = a[0], a[1]
		}
	}
	return resource, verb
}
