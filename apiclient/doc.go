// Package apiclient is the client side of the rescue API's websocket
// protocol.
//
// A Session owns one duplex connection. Connecting reads the server's
// handshake and refuses API versions other than the one the session was
// built for. Once open, a single dispatch loop reads inbound messages in
// order: responses are handed to the caller waiting on their request id,
// and push events are queued to an ordered per-connection worker that runs
// the registered EventHandlers. Handlers may issue requests of their own.
//
// Requests carry a fresh uuid request id and wait at most Timeout (6s by
// default) for their response. Server error codes on a response surface as
// *ServerError values matching ErrUnauthorized, ErrForbidden or
// ErrInternalServer.
//
// AttachBoard wires the rescueCreated, rescueUpdated and rescueDeleted
// events to a board.Board.
package apiclient
