package convert

import (
	"context"
	"sort"
)

// Search is a standalone registry of type-checked criteria for callers that
// do not need a full entity converter. Values may still use operator markers.
type Search struct {
	criteria map[string]*Mapper
}

// NewSearch returns an empty registry.
func NewSearch() *Search {
	return &Search{criteria: make(map[string]*Mapper)}
}

// Add registers criterion, written at path in generated queries. Use
// WithTypes, Nullable and WithEncode to restrict and sanitize values.
func (s *Search) Add(criterion, path string, opts ...Option) *Search {
	opts = append(opts, WithSearchPath(path))
	s.criteria[criterion] = NewMapper(criterion, path, opts...)
	return s
}

// Generate builds the query document for criteria.
func (s *Search) Generate(ctx context.Context, criteria map[string]any) (Document, error) {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := Document{}
	for _, k := range keys {
		m, ok := s.criteria[k]
		if !ok {
			return nil, &UnknownCriterionError{Criterion: k}
		}
		v, err := m.SearchValue(ctx, criteria[k])
		if err != nil {
			return nil, err
		}
		SetNested(out, m.searchPath, v)
	}
	return out, nil
}
