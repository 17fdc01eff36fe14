package apiclient

import (
	"context"
	"errors"
	"fmt"
)

// ConnectAny connects with the first of versions the server accepts, trying
// them in order. With no versions, Versions() is used. Errors other than a
// version mismatch stop the search.
func ConnectAny(ctx context.Context, ep Endpoint, versions []Version, opts ...Option) (*Session, error) {
	if len(versions) == 0 {
		versions = Versions()
	}
	var mismatches []error
	for _, v := range versions {
		s := New(ep, v, opts...)
		err := s.Connect(ctx)
		if err == nil {
			return s, nil
		}
		var vm *VersionMismatchError
		if !errors.As(err, &vm) {
			return nil, err
		}
		mismatches = append(mismatches, err)
	}
	return nil, fmt.Errorf("no supported API version: %w", errors.Join(mismatches...))
}
