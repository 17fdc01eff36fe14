package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fuelrats/rescue-api-go/internal/wire"
)

var (
	// ErrNotConnected is returned for operations that need an open session,
	// and to calls still pending when their connection goes away.
	ErrNotConnected = errors.New("not connected to API")
	// ErrAlreadyConnected is returned by Connect on a session that is not
	// disconnected.
	ErrAlreadyConnected = errors.New("already connected to API")

	// ErrUnauthorized matches 401-class server errors.
	ErrUnauthorized = errors.New("API token required, but not provided")
	// ErrForbidden matches 403-class server errors.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrInternalServer matches 500-class server errors.
	ErrInternalServer = errors.New("internal server error in the API")

	// ErrMissingID is returned when a rescue needs an API identifier it does
	// not have yet.
	ErrMissingID = errors.New("rescue has no API identifier")
)

// VersionMismatchError is returned by Connect when the server speaks a
// different API version.
type VersionMismatchError struct {
	Client string
	Server string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("tried to connect to %s API with %s client", e.Server, e.Client)
}

// ProtocolError reports a malformed handshake.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API protocol error: %s: %v", e.Reason, e.Err)
	}
	return "API protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError is an error code returned by the API for a request. Response
// holds the raw document.
type ServerError struct {
	Status   int
	Code     string
	Response wire.Document
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s (%d)", e.sentinel().Error(), e.Status)
}

func (e *ServerError) sentinel() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return ErrInternalServer
	}
}

func (e *ServerError) Is(target error) bool { return target == e.sentinel() }

// serverError maps a response's error code to a ServerError. Unknown codes
// return nil.
func serverError(code string, resp wire.Document) *ServerError {
	var status int
	switch code {
	case wire.CodeUnauthorized:
		status = http.StatusUnauthorized
	case wire.CodeForbidden:
		status = http.StatusForbidden
	case wire.CodeInternalServer:
		status = http.StatusInternalServerError
	default:
		return nil
	}
	return &ServerError{Status: status, Code: code, Response: resp}
}
