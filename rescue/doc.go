// Package rescue contains the domain entities tracked by the rescue board and
// exchanged with the case-management API: rescues (cases), quotations, rats
// (participants) and deletion markers.
//
// The package is intentionally free of wire concerns. Conversion to and from
// the API's nested JSON documents lives in the convert packages; this package
// only defines the Go-side shape of the data plus the identity rules the board
// relies on.
//
// # Identity
//
// Two rescues describe the same case when their identifiers match. Before the
// API has assigned an identifier, the client name together with the exact
// creation timestamp serves as the identity instead. See [Rescue.SameCase].
package rescue
