package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fuelrats/rescue-api-go/apiclient"
	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/relay"
	"github.com/fuelrats/rescue-api-go/relay/feed"
	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/prometheus/client_golang/prometheus"
)

type fixedState apiclient.State

func (s fixedState) State() apiclient.State { return apiclient.State(s) }

type fixture struct {
	srv   *httptest.Server
	board *board.Board
}

func newFixture(t *testing.T, st apiclient.State) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	changes := feed.New(16)
	t.Cleanup(func() { _ = changes.Close() })
	b := board.New(board.WithLogger(log))
	relay.New(relay.WithPublisher(changes), relay.WithLogger(log)).Attach(b)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "rescue_sync_test_up"}))
	srv := httptest.NewServer(newStatusHandler(reg, b, changes, fixedState(st), log))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, board: b}
}

func (f *fixture) add(t *testing.T, client string) {
	t.Helper()
	r := rescue.New(client)
	r.System = "SOL"
	r.Platform = rescue.PlatformPC
	r.CreatedAt = time.Date(2024, 3, 1, 12, 30, 15, 0, time.UTC)
	r.UpdatedAt = r.CreatedAt
	if _, err := f.board.Append(context.Background(), r, false); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state apiclient.State
		code  int
	}{
		{apiclient.StateOpen, http.StatusOK},
		{apiclient.StateDisconnected, http.StatusServiceUnavailable},
		{apiclient.StateHandshaking, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.state)
			resp, body := get(t, f.srv.URL+"/healthz")
			if resp.StatusCode != tt.code {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			var got struct {
				State string `json:"state"`
			}
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.State != tt.state.String() {
				t.Fatalf("state = %q", got.State)
			}
		})
	}
}

func TestBoardList(t *testing.T) {
	t.Parallel()

	f := newFixture(t, apiclient.StateOpen)
	f.add(t, "Client One")
	f.add(t, "Client Two")

	resp, body := get(t, f.srv.URL+"/board")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		Data []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Data) != 2 {
		t.Fatalf("data = %s", body)
	}
	if got.Data[0].Attributes["client"] != "Client One" || got.Data[1].Attributes["client"] != "Client Two" {
		t.Fatalf("data = %s", body)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, apiclient.StateOpen)
	resp, body := get(t, f.srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("rescue_sync_test_up")) {
		t.Fatalf("metrics = %d %s", resp.StatusCode, body)
	}
}

type sseEvent struct {
	id, event string
	data      []byte
}

func readEvent(t *testing.T, br *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestBoardChangesResume(t *testing.T) {
	t.Parallel()

	f := newFixture(t, apiclient.StateOpen)
	f.add(t, "Client One")
	f.add(t, "Client Two")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/board/changes", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(lastEventIDHeader, "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	br := bufio.NewReader(resp.Body)

	ev := readEvent(t, br)
	if ev.id != "2" || ev.event != relay.TypeFor(board.Added) {
		t.Fatalf("replayed event = %+v", ev)
	}
	var env relay.Envelope
	if err := json.Unmarshal(ev.data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Meta.Index == nil || *env.Meta.Index != 1 {
		t.Fatalf("index = %v", env.Meta.Index)
	}

	f.board.Clear(context.Background())
	ev = readEvent(t, br)
	if ev.id != "3" || ev.event != relay.TypeFor(board.Cleared) {
		t.Fatalf("live event = %+v", ev)
	}
}

func TestBoardChangesBadLastEventID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, apiclient.StateOpen)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/board/changes", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set(lastEventIDHeader, "abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRunSchema(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := run(t.Context(), []string{"schema"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("schema output is not JSON: %v", err)
	}
	if _, ok := doc["properties"]; !ok {
		t.Fatalf("schema = %s", out.String())
	}
}
