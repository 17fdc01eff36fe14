// Package wire holds the JSON document shapes exchanged with the rescue API
// and the classification of inbound messages.
package wire

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Document is a loosely-typed JSON object as sent and received on the wire.
type Document = map[string]any

// Well-known keys.
const (
	KeyAction     = "action"
	KeyMeta       = "meta"
	KeyData       = "data"
	KeyIncluded   = "included"
	KeyCode       = "code"
	KeyRequestID  = "request_id"
	KeyEvent      = "event"
	KeyCount      = "count"
	KeyAPIVersion = "API-Version"
)

// Server error codes.
const (
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeInternalServer = "internal_server"
)

// Kind classifies an inbound document.
type Kind int

const (
	// KindUnrecognized is neither a response, an error nor an event.
	KindUnrecognized Kind = iota
	// KindResponse carries a request id a caller is waiting on.
	KindResponse
	// KindUnexpected carries a request id nobody is waiting on.
	KindUnexpected
	// KindError carries an error code and no awaited request id.
	KindError
	// KindEvent is an unsolicited push event.
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindUnexpected:
		return "unexpected"
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	default:
		return "unrecognized"
	}
}

// Parse decodes one inbound message.
func Parse(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("message is not an object")
	}
	return doc, nil
}

// Marshal encodes an outbound document.
func Marshal(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

// Meta returns the document's meta object, or nil.
func Meta(doc Document) Document {
	m, _ := doc[KeyMeta].(map[string]any)
	return m
}

func metaString(doc Document, key string) (string, bool) {
	s, ok := Meta(doc)[key].(string)
	return s, ok && s != ""
}

// RequestID returns meta.request_id.
func RequestID(doc Document) (string, bool) { return metaString(doc, KeyRequestID) }

// Event returns meta.event.
func Event(doc Document) (string, bool) { return metaString(doc, KeyEvent) }

// Version returns the handshake's meta["API-Version"].
func Version(doc Document) (string, bool) { return metaString(doc, KeyAPIVersion) }

// Code returns the top-level error code.
func Code(doc Document) (string, bool) {
	s, ok := doc[KeyCode].(string)
	return s, ok && s != ""
}

// Classify determines how an inbound document is handled. Documents carrying
// a request id are responses when awaiting reports a waiter for it; error
// codes and events are only considered for documents without one.
func Classify(doc Document, awaiting func(id string) bool) Kind {
	if id, ok := RequestID(doc); ok {
		if awaiting != nil && awaiting(id) {
			return KindResponse
		}
		return KindUnexpected
	}
	if _, ok := Code(doc); ok {
		return KindError
	}
	if _, ok := Event(doc); ok {
		return KindEvent
	}
	return KindUnrecognized
}

// NewRequest builds the request document for resource and verb. params are
// copied to the top level and meta is merged into params' own meta object.
func NewRequest(resource, verb string, params, meta Document) Document {
	doc := make(Document, len(params)+2)
	maps.Copy(doc, params)
	m := Document{}
	if pm, ok := params[KeyMeta].(map[string]any); ok {
		maps.Copy(m, pm)
	}
	maps.Copy(m, meta)
	doc[KeyMeta] = m
	doc[KeyAction] = []any{resource, verb}
	return doc
}

// SetRequestID stamps meta.request_id on doc, creating meta when absent.
func SetRequestID(doc Document, id string) {
	m := Meta(doc)
	if m == nil {
		m = Document{}
		doc[KeyMeta] = m
	}
	m[KeyRequestID] = id
}

// Data returns the response's data member.
func Data(doc Document) any { return doc[KeyData] }

// DataList returns data as a list, wrapping a single object.
func DataList(doc Document) []any {
	switch d := doc[KeyData].(type) {
	case []any:
		return d
	case map[string]any:
		return []any{d}
	default:
		return nil
	}
}

// Included returns the side-loaded documents of a response.
func Included(doc Document) []any {
	list, _ := doc[KeyIncluded].([]any)
	return list
}
