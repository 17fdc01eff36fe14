package rescue

import "strings"

// Status is the lifecycle state of a rescue.
type Status string

const (
	StatusOpen     Status = "open"
	StatusInactive Status = "inactive"
	StatusClosed   Status = "closed"
)

// ParseStatus parses a status token case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOpen, StatusInactive, StatusClosed:
		return st, true
	default:
		return "", false
	}
}

// Active reports whether a rescue in this state belongs on the board.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusInactive
}

// Outcome records how a closed rescue ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeInvalid Outcome = "invalid"
	OutcomeOther   Outcome = "other"
	OutcomePurge   Outcome = "purge"
)

// ParseOutcome parses an outcome token case-insensitively.
func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeSuccess, OutcomeFailure, OutcomeInvalid, OutcomeOther, OutcomePurge:
		return o, true
	default:
		return "", false
	}
}

// Platform is the game platform a client or rat plays on.
type Platform string

const (
	PlatformPC      Platform = "pc"
	PlatformXB      Platform = "xb"
	PlatformPS      Platform = "ps"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform parses a platform token. Unrecognized tokens map to
// PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformPC, PlatformXB, PlatformPS:
		return p
	default:
		return PlatformUnknown
	}
}
