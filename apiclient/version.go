package apiclient

import (
	"cmp"
	"fmt"
)

// Version is an API version the client speaks.
type Version struct {
	// Token is the version string exchanged in the handshake, e.g. "v2.1".
	Token string
	// Ordinal orders versions; higher is newer.
	Ordinal int
}

var (
	V20 = Version{Token: "v2.0", Ordinal: 200}
	V21 = Version{Token: "v2.1", Ordinal: 210}
)

// Versions lists the supported versions, newest first.
func Versions() []Version { return []Version{V21, V20} }

// ParseVersion returns the supported version with the given token.
func ParseVersion(token string) (Version, error) {
	for _, v := range Versions() {
		if v.Token == token {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("unsupported API version %q", token)
}

// Compare orders versions by ordinal.
func (v Version) Compare(o Version) int { return cmp.Compare(v.Ordinal, o.Ordinal) }

func (v Version) String() string { return v.Token }

// SearchVerb is the verb used to search a resource. v2.0 searches through
// "read"; later versions have a dedicated "search".
func (v Version) SearchVerb() string {
	if v.Compare(V21) < 0 {
		return "read"
	}
	return "search"
}
