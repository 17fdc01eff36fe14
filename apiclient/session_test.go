package apiclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/internal/outbound"
	"github.com/fuelrats/rescue-api-go/internal/wire"
	"github.com/fuelrats/rescue-api-go/transport/transporttest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var testEndpoint = Endpoint{Host: "api.test", Token: "tok"}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// apiServer greets with version and passes every request to handle.
func apiServer(version string, handle func(ctx context.Context, conn *transporttest.Conn, req map[string]any)) transporttest.ServeFunc {
	return func(ctx context.Context, conn *transporttest.Conn) {
		if err := conn.WriteJSON(ctx, transporttest.Handshake(version)); err != nil {
			return
		}
		for {
			req, err := conn.ReadJSON(ctx)
			if err != nil {
				return
			}
			if handle != nil {
				handle(ctx, conn, req)
			}
		}
	}
}

func echoServer(version string) transporttest.ServeFunc {
	return apiServer(version, func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, req["data"]))
	})
}

func connect(t *testing.T, d *transporttest.Dialer, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithDialer(d), WithLogger(quietLogger())}, opts...)
	s := New(testEndpoint, V21, opts...)
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func TestConnectVersionMismatch(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(func(ctx context.Context, conn *transporttest.Conn) {
		_ = conn.WriteJSON(ctx, transporttest.Handshake("v2.0"))
		<-conn.Done()
	})
	s := New(testEndpoint, V21, WithDialer(d), WithLogger(quietLogger()))

	err := s.Connect(t.Context())
	var vm *VersionMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("Connect error = %v, want *VersionMismatchError", err)
	}
	if vm.Client != "v2.1" || vm.Server != "v2.0" {
		t.Fatalf("mismatch = %+v", vm)
	}
	srv := d.Server(0)
	if !srv.Closed() || srv.CloseReason() != closeMismatchedVersion {
		t.Fatalf("channel closed=%v reason=%q", srv.Closed(), srv.CloseReason())
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v", s.State())
	}
	if _, err := s.Call(t.Context(), ResourceRescues, VerbRead, nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call after failed connect = %v", err)
	}
	d.Wait()
}

func TestConnect(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 1)
	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		received <- req
		_ = conn.WriteJSON(ctx, transporttest.Reply(req, map[string]any{"ok": true}))
	}))
	s := connect(t, d)

	if s.State() != StateOpen {
		t.Fatalf("state = %v", s.State())
	}
	if got := d.URIs()[0]; got != "ws://api.test/?bearer=tok" {
		t.Fatalf("dialed %q", got)
	}
	if err := s.Connect(t.Context()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v", err)
	}

	resp, err := s.Call(t.Context(), ResourceRescues, VerbRead, wire.Document{"id": "x"}, wire.Document{"trace": "abc"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if data, _ := wire.Data(resp).(map[string]any); data["ok"] != true {
		t.Fatalf("response = %v", resp)
	}

	req := <-received
	if resource, verb := transporttest.Action(req); resource != ResourceRescues || verb != VerbRead {
		t.Fatalf("action = %s/%s", resource, verb)
	}
	meta, _ := req["meta"].(map[string]any)
	if meta["trace"] != "abc" || meta["request_id"] == nil || req["id"] != "x" {
		t.Fatalf("request = %v", req)
	}
}

func TestConnectHandshakeWithoutVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		legacy bool
	}{
		{name: "strict"},
		{name: "legacy", legacy: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := transporttest.NewDialer(echoServer(""))
			s := New(testEndpoint, V21, WithDialer(d), WithLogger(quietLogger()), WithLegacyHandshake(tt.legacy))
			err := s.Connect(t.Context())
			if tt.legacy {
				if err != nil {
					t.Fatalf("Connect: %v", err)
				}
				_ = s.Disconnect(t.Context())
				return
			}
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("Connect error = %v, want *ProtocolError", err)
			}
			if !d.Server(0).Closed() {
				t.Fatal("channel left open")
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(echoServer("v2.1"))
	s := connect(t, d)

	if err := s.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("second Disconnect = %v, want ErrNotConnected", err)
	}
	if !d.Server(0).Closed() {
		t.Fatal("channel left open")
	}
	if _, err := s.Call(t.Context(), ResourceRescues, VerbRead, nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call after Disconnect = %v", err)
	}

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if n := len(d.URIs()); n != 2 {
		t.Fatalf("dialed %d times", n)
	}
	if _, err := s.Call(t.Context(), ResourceRescues, VerbRead, nil, nil); err != nil {
		t.Fatalf("Call after reconnect: %v", err)
	}
}

func TestServerErrors(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		reply := transporttest.Reply(req, nil)
		reply["code"] = req["code"]
		_ = conn.WriteJSON(ctx, reply)
	}))
	s := connect(t, d)

	tests := []struct {
		code   string
		want   error
		status int
	}{
		{code: "unauthorized", want: ErrUnauthorized, status: 401},
		{code: "forbidden", want: ErrForbidden, status: 403},
		{code: "internal_server", want: ErrInternalServer, status: 500},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := s.Call(t.Context(), ResourceRescues, VerbRead, wire.Document{"code": tt.code}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var se *ServerError
			if !errors.As(err, &se) || se.Status != tt.status || se.Response == nil {
				t.Fatalf("server error = %+v", se)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		resp, err := s.Call(t.Context(), ResourceRescues, VerbRead, wire.Document{"code": "teapot"}, nil)
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if code, _ := wire.Code(resp); code != "teapot" {
			t.Fatalf("response = %v", resp)
		}
	})
}

func TestConnectionLossFailsPending(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(apiServer("v2.1", func(_ context.Context, conn *transporttest.Conn, _ map[string]any) {
		_ = conn.Close("going away")
	}))
	s := connect(t, d)
	closed := s.Closed()

	_, err := s.Call(t.Context(), ResourceRescues, VerbRead, nil, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Call = %v, want ErrNotConnected", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Closed channel not closed")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v", s.State())
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := transporttest.NewDialer(apiServer("v2.1", nil))
	s := connect(t, d, WithTimeout(50*time.Millisecond), WithMetrics(m))

	_, err := s.Call(t.Context(), ResourceRescues, VerbRead, nil, nil)
	var te *outbound.TimeoutError
	if !errors.Is(err, outbound.ErrTimeout) || !errors.As(err, &te) {
		t.Fatalf("Call = %v, want timeout", err)
	}
	if got := testutil.ToFloat64(m.timeouts); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(ResourceRescues, VerbRead, "timeout")); got != 1 {
		t.Fatalf("timeout requests = %v", got)
	}
	if got := testutil.ToFloat64(m.connected); got != 1 {
		t.Fatalf("connected = %v", got)
	}
}

func TestConcurrentRequests(t *testing.T) {
	t.Parallel()

	const n = 20
	var (
		mu      sync.Mutex
		pending []map[string]any
	)
	// Replies go out in reverse order once every request has arrived.
	d := transporttest.NewDialer(apiServer("v2.1", func(ctx context.Context, conn *transporttest.Conn, req map[string]any) {
		mu.Lock()
		pending = append(pending, req)
		batch := pending
		if len(batch) == n {
			pending = nil
		}
		mu.Unlock()
		if len(batch) < n {
			return
		}
		for i := len(batch) - 1; i >= 0; i-- {
			_ = conn.WriteJSON(ctx, transporttest.Reply(batch[i], batch[i]["n"]))
		}
	}))
	s := connect(t, d)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.Call(t.Context(), ResourceRescues, VerbRead, wire.Document{"n": i}, nil)
			if err != nil {
				errs <- err
				return
			}
			if got := wire.Data(resp); got != float64(i) {
				errs <- fmt.Errorf("request %d got response %v", i, got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEventsRunInOrder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := transporttest.NewDialer(echoServer("v2.1"))
	s := connect(t, d, WithMetrics(m))

	got := make(chan string, 10)
	s.Handle("ping", func(ctx context.Context, ev Event) error {
		// Handlers may issue requests of their own.
		resp, err := s.Call(ctx, ResourceRats, VerbRead, wire.Document{"data": ev.Data[0]}, nil)
		if err != nil {
			return err
		}
		got <- fmt.Sprint(wire.Data(resp))
		return nil
	})
	s.Handle("fail", func(context.Context, Event) error { return errors.New("boom") })

	srv := d.Server(0)
	for _, doc := range []map[string]any{
		transporttest.Event("ping", "one"),
		transporttest.Event("unknown"),
		transporttest.Event("fail"),
		transporttest.Event("ping", "two"),
	} {
		if err := srv.WriteJSON(t.Context(), doc); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}
	for _, want := range []string{"one", "two"} {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("event payload %q, want %q", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %q not handled", want)
		}
	}
	if v := testutil.ToFloat64(m.events.WithLabelValues("unknown", "unhandled")); v != 1 {
		t.Fatalf("unhandled events = %v", v)
	}
	if v := testutil.ToFloat64(m.events.WithLabelValues("fail", "error")); v != 1 {
		t.Fatalf("failed events = %v", v)
	}
}

func TestReconfigure(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(echoServer("v2.1"))
	s := connect(t, d)

	if err := s.Reconfigure(t.Context(), testEndpoint); err != nil {
		t.Fatalf("Reconfigure unchanged: %v", err)
	}
	if n := len(d.URIs()); n != 1 {
		t.Fatalf("unchanged endpoint redialed: %d", n)
	}

	next := Endpoint{Host: "other.test", Token: "new", Secure: true}
	if err := s.Reconfigure(t.Context(), next); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	uris := d.URIs()
	if len(uris) != 2 || uris[1] != "wss://other.test/?bearer=new" {
		t.Fatalf("dialed %v", uris)
	}
	if !d.Server(0).Closed() {
		t.Fatal("old channel left open")
	}
	if s.State() != StateOpen || s.Endpoint() != next {
		t.Fatalf("state=%v endpoint=%+v", s.State(), s.Endpoint())
	}
}

func TestConnectAny(t *testing.T) {
	t.Parallel()

	d := transporttest.NewDialer(echoServer("v2.0"))
	s, err := ConnectAny(t.Context(), testEndpoint, nil, WithDialer(d), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("ConnectAny: %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	if s.Version() != V20 {
		t.Fatalf("version = %v", s.Version())
	}
	if n := len(d.URIs()); n != 2 {
		t.Fatalf("dialed %d times", n)
	}

	none := transporttest.NewDialer(echoServer("v3.0"))
	_, err = ConnectAny(t.Context(), testEndpoint, nil, WithDialer(none), WithLogger(quietLogger()))
	var vm *VersionMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("ConnectAny = %v, want version mismatch", err)
	}
}

func TestChangedSignalsTransitions(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	d := transporttest.NewDialer(func(ctx context.Context, conn *transporttest.Conn) {
		select {
		case <-release:
		case <-ctx.Done():
			return
		}
		_ = conn.WriteJSON(ctx, transporttest.Handshake("v2.1"))
		<-conn.Done()
	})
	s := New(testEndpoint, V21, WithDialer(d), WithLogger(quietLogger()))

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(t.Context()) }()

	waitState := func(want State) {
		t.Helper()
		for {
			changed := s.Changed()
			if s.State() == want {
				return
			}
			select {
			case <-changed:
			case <-time.After(2 * time.Second):
				t.Fatalf("state stayed %v, want %v", s.State(), want)
			}
		}
	}
	waitState(StateHandshaking)

	// No transition happens while the handshake is outstanding.
	changed := s.Changed()
	select {
	case <-changed:
		t.Fatalf("changed during handshake, state = %v", s.State())
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitState(StateOpen)
	if err := <-errc; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case <-changed:
	default:
		t.Fatal("channel taken during handshake not closed by later transitions")
	}
}
