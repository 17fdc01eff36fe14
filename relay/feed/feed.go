// Package feed keeps recent board change envelopes in memory and streams
// them to local subscribers, who can resume from the last sequence number
// they saw.
package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fuelrats/rescue-api-go/relay"
)

const (
	// DefaultHistory is the number of envelopes retained for resuming.
	DefaultHistory = 1024

	subscriberBuffer = 100
)

// ErrLagged is returned by Next after a subscriber fell so far behind that
// envelopes were dropped. Subscribe again with the last seen sequence to
// resume.
var ErrLagged = errors.New("subscriber lagged behind the feed")

// Feed implements relay.Publisher.
type Feed struct {
	mu          sync.Mutex
	history     []relay.Envelope
	limit       int
	subscribers map[*Stream]struct{}
	closed      bool
}

// New creates a Feed retaining up to history envelopes. Non-positive
// values use DefaultHistory.
func New(history int) *Feed {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Feed{limit: history, subscribers: make(map[*Stream]struct{})}
}

// Stream is one subscription. A Stream is meant for a single consumer.
type Stream struct {
	feed    *Feed
	ch      chan relay.Envelope
	lastSeq uint64
	lagged  atomic.Bool
	closed  atomic.Bool
}

// Publish appends env and hands it to every subscriber. Subscribers whose
// buffer is full are cut off with ErrLagged.
func (f *Feed) Publish(ctx context.Context, env relay.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	f.history = append(f.history, env)
	if over := len(f.history) - f.limit; over > 0 {
		f.history = append(f.history[:0:0], f.history[over:]...)
	}
	for s := range f.subscribers {
		select {
		case s.ch <- env:
		default:
			s.lagged.Store(true)
			f.drop(s)
		}
	}
	return nil
}

// Subscribe streams envelopes published after lastSeq. A zero lastSeq
// starts with the next envelope. Retained envelopes newer than lastSeq are
// replayed first; when lastSeq is older than the retained history the
// stream starts lagged.
func (f *Feed) Subscribe(ctx context.Context, lastSeq uint64) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, io.ErrClosedPipe
	}

	var backlog []relay.Envelope
	if lastSeq > 0 {
		for i, env := range f.history {
			if env.Meta.Seq > lastSeq {
				backlog = f.history[i:]
				break
			}
		}
		if len(f.history) > 0 && f.history[0].Meta.Seq > lastSeq+1 {
			s := &Stream{feed: f, ch: make(chan relay.Envelope), lastSeq: lastSeq}
			s.lagged.Store(true)
			close(s.ch)
			return s, nil
		}
	}

	s := &Stream{
		feed:    f,
		ch:      make(chan relay.Envelope, max(subscriberBuffer, len(backlog))),
		lastSeq: lastSeq,
	}
	for _, env := range backlog {
		s.ch <- env
	}
	f.subscribers[s] = struct{}{}
	return s, nil
}

// drop removes s. f.mu must be held.
func (f *Feed) drop(s *Stream) {
	if _, ok := f.subscribers[s]; !ok {
		return
	}
	delete(f.subscribers, s)
	close(s.ch)
}

// Close ends every subscription.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for s := range f.subscribers {
		f.drop(s)
	}
	f.history = nil
	return nil
}

// Next blocks for the next envelope. It returns io.EOF once the stream or
// feed is closed and ErrLagged when envelopes were dropped.
func (s *Stream) Next(ctx context.Context) (relay.Envelope, error) {
	if s.closed.Load() {
		return relay.Envelope{}, io.EOF
	}
	select {
	case env, ok := <-s.ch:
		if !ok {
			if s.lagged.Load() {
				return relay.Envelope{}, ErrLagged
			}
			return relay.Envelope{}, io.EOF
		}
		s.lastSeq = env.Meta.Seq
		return env, nil
	case <-ctx.Done():
		return relay.Envelope{}, ctx.Err()
	}
}

// LastSeq is the sequence number of the last envelope returned by Next.
func (s *Stream) LastSeq() uint64 { return s.lastSeq }

// Close releases the subscription.
func (s *Stream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.feed.mu.Lock()
		s.feed.drop(s)
		s.feed.mu.Unlock()
	}
	return nil
}

var _ relay.Publisher = (*Feed)(nil)
