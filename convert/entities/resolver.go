package entities

import (
	"context"
	"errors"
	"fmt"

	"github.com/fuelrats/rescue-api-go/rescue"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultResolverSize bounds the number of cached rats.
const DefaultResolverSize = 1024

// ErrUnresolvedRat is returned when a rat reference misses the cache and the
// fetcher fails.
var ErrUnresolvedRat = errors.New("rat reference unresolved")

// RatFetcher loads a rat the cache does not know.
type RatFetcher interface {
	FetchRat(ctx context.Context, id uuid.UUID) (rescue.Rat, error)
}

// RatFetcherFunc adapts a function to RatFetcher.
type RatFetcherFunc func(ctx context.Context, id uuid.UUID) (rescue.Rat, error)

func (f RatFetcherFunc) FetchRat(ctx context.Context, id uuid.UUID) (rescue.Rat, error) {
	return f(ctx, id)
}

// RatResolver turns rat references into full rats using an LRU side-cache,
// falling back to the fetcher on a miss. Without a fetcher, misses resolve
// to reference-only rats.
type RatResolver struct {
	cache *lru.Cache[uuid.UUID, rescue.Rat]
	fetch RatFetcher
}

// NewRatResolver creates a resolver holding up to size rats. fetch may be nil.
func NewRatResolver(size int, fetch RatFetcher) (*RatResolver, error) {
	if size <= 0 {
		size = DefaultResolverSize
	}
	cache, err := lru.New[uuid.UUID, rescue.Rat](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rat cache: %w", err)
	}
	return &RatResolver{cache: cache, fetch: fetch}, nil
}

// SetFetcher replaces the fallback fetcher.
func (r *RatResolver) SetFetcher(f RatFetcher) { r.fetch = f }

// Remember seeds the cache, typically from a response's included documents.
func (r *RatResolver) Remember(rats ...rescue.Rat) {
	for _, rat := range rats {
		if rat.ID != uuid.Nil {
			r.cache.Add(rat.ID, rat)
		}
	}
}

// Resolve returns the rat with the given id.
func (r *RatResolver) Resolve(ctx context.Context, id uuid.UUID) (rescue.Rat, error) {
	if rat, ok := r.cache.Get(id); ok {
		return rat, nil
	}
	if r.fetch == nil {
		return rescue.Rat{ID: id, Platform: rescue.PlatformUnknown}, nil
	}
	rat, err := r.fetch.FetchRat(ctx, id)
	if err != nil {
		return rescue.Rat{}, fmt.Errorf("%w: %s: %w", ErrUnresolvedRat, id, err)
	}
	r.cache.Add(id, rat)
	return rat, nil
}
