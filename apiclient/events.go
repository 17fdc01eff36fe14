package apiclient

import (
	"context"

	"github.com/fuelrats/rescue-api-go/internal/wire"
)

// Event is an unsolicited document pushed by the API.
type Event struct {
	// Name is meta.event.
	Name string
	// Data is the event's data member as a list.
	Data []any
	// Doc is the raw document.
	Doc wire.Document
}

// EventHandler handles one event. Handlers for a connection run one at a
// time in arrival order and may issue requests on the session.
type EventHandler func(ctx context.Context, ev Event) error

// Handle registers h for events named name, replacing any previous
// handler. A nil h removes the registration.
func (s *Session) Handle(name string, h EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if h == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = h
}

func (s *Session) handler(name string) EventHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[name]
}
