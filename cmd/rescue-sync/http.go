package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fuelrats/rescue-api-go/apiclient"
	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/convert/entities"
	"github.com/fuelrats/rescue-api-go/relay/feed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const lastEventIDHeader = "Last-Event-ID"

type stateSource interface {
	State() apiclient.State
}

type statusHandler struct {
	board   *board.Board
	changes *feed.Feed
	sess    stateSource
	log     *slog.Logger
}

func newStatusHandler(reg *prometheus.Registry, b *board.Board, changes *feed.Feed, sess stateSource, log *slog.Logger) http.Handler {
	h := &statusHandler{board: b, changes: changes, sess: sess, log: log}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /board", h.list)
	mux.HandleFunc("GET /board/changes", h.stream)
	return mux
}

func (h *statusHandler) healthz(w http.ResponseWriter, r *http.Request) {
	st := h.sess.State()
	code := http.StatusOK
	if st != apiclient.StateOpen {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"state": st.String(), "rescues": h.board.Len()})
}

func (h *statusHandler) list(w http.ResponseWriter, r *http.Request) {
	rescues := h.board.List()
	out := make([]map[string]any, 0, len(rescues))
	for _, rsc := range rescues {
		doc, err := entities.Rescues.Encode(r.Context(), rsc)
		if err != nil {
			h.log.ErrorContext(r.Context(), "rescue_sync.encode_failed", slog.String("err", err.Error()))
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}
		out = append(out, doc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// stream serves board changes as server-sent events. The event id is the
// envelope sequence number, so a client reconnecting with Last-Event-ID
// resumes where it stopped.
func (h *statusHandler) stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	var last uint64
	if v := r.Header.Get(lastEventIDHeader); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad Last-Event-ID", http.StatusBadRequest)
			return
		}
		last = n
	}
	sub, err := h.changes.Subscribe(ctx, last)
	if err != nil {
		http.Error(w, "feed closed", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		env, err := sub.Next(ctx)
		switch {
		case errors.Is(err, feed.ErrLagged):
			// The client must refetch /board; ending the stream tells it so.
			h.log.WarnContext(ctx, "rescue_sync.stream_lagged", slog.Uint64("last_seq", sub.LastSeq()))
			_, _ = fmt.Fprint(w, "event: lagged\ndata: {}\n\n")
			flusher.Flush()
			return
		case err != nil:
			return
		}
		payload, err := json.Marshal(env)
		if err != nil {
			h.log.ErrorContext(ctx, "rescue_sync.encode_failed", slog.String("err", err.Error()))
			return
		}
		if err := writeEvent(w, env.Meta.Seq, env.Meta.Type, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, seq uint64, typ string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: ", seq, typ); err != nil {
		return fmt.Errorf("failed to write event header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write event payload: %w", err)
	}
	if _, err := io.WriteString(w, "\n\n"); err != nil {
		return fmt.Errorf("failed to write event terminator: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
