package convert

import (
	"context"
	"fmt"
	"sort"
)

// Field binds a Mapper to accessors on entity type T.
type Field[T any] struct {
	*Mapper

	get func(T) (any, bool)
	set func(*T, any) error
}

// NewField declares a field. get reports the attribute value and whether it
// is set; set assigns a decoded value. Either may be nil for fields that only
// travel in one direction.
func NewField[T any](name, path string, get func(T) (any, bool), set func(*T, any) error, opts ...Option) Field[T] {
	return Field[T]{Mapper: NewMapper(name, path, opts...), get: get, set: set}
}

// Converter assembles and disassembles entities of type T from their fields.
type Converter[T any] struct {
	newFn       func() T
	fields      []Field[T]
	byCriterion map[string]*Field[T]

	postDecode func(ctx context.Context, v *T, doc Document) error
	postEncode func(ctx context.Context, v T, doc Document) error
}

// ConverterOption configures a Converter.
type ConverterOption[T any] func(*Converter[T])

// WithPostDecode runs fn after every field has been decoded, e.g. to resolve
// references against a cache.
func WithPostDecode[T any](fn func(ctx context.Context, v *T, doc Document) error) ConverterOption[T] {
	return func(c *Converter[T]) { c.postDecode = fn }
}

// WithPostEncode runs fn after every field has been encoded, e.g. to stamp a
// type discriminator.
func WithPostEncode[T any](fn func(ctx context.Context, v T, doc Document) error) ConverterOption[T] {
	return func(c *Converter[T]) { c.postEncode = fn }
}

// NewConverter validates the field declarations and returns a converter.
// newFn supplies the value decoding starts from, so omitted attributes keep
// their defaults.
func NewConverter[T any](newFn func() T, fields []Field[T], opts ...ConverterOption[T]) (*Converter[T], error) {
	c := &Converter[T]{
		newFn:       newFn,
		fields:      fields,
		byCriterion: make(map[string]*Field[T], len(fields)),
	}
	for i := range c.fields {
		f := &c.fields[i]
		if f.Mapper == nil {
			return nil, fmt.Errorf("field %d: mapper required", i)
		}
		if f.retention.decodes() && f.set == nil {
			return nil, fmt.Errorf("field %q: decoding requires a setter", f.name)
		}
		if f.retention.encodes() && f.get == nil {
			return nil, fmt.Errorf("field %q: encoding requires a getter", f.name)
		}
		if _, dup := c.byCriterion[f.criterion]; dup {
			return nil, fmt.Errorf("field %q: duplicate criterion %q", f.name, f.criterion)
		}
		c.byCriterion[f.criterion] = f
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// MustConverter is NewConverter for package-level declarations.
func MustConverter[T any](newFn func() T, fields []Field[T], opts ...ConverterOption[T]) *Converter[T] {
	c, err := NewConverter(newFn, fields, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Decode builds an entity from doc.
func (c *Converter[T]) Decode(ctx context.Context, doc Document) (T, error) {
	v := c.newFn()
	for i := range c.fields {
		f := &c.fields[i]
		if !f.retention.decodes() {
			continue
		}
		val, err := f.FromWire(ctx, doc)
		if err != nil {
			var zero T
			return zero, err
		}
		if val == nil {
			continue
		}
		if err := f.set(&v, val); err != nil {
			var zero T
			return zero, &TransformError{Field: f.name, Direction: Decoding, Err: err}
		}
	}
	if c.postDecode != nil {
		if err := c.postDecode(ctx, &v, doc); err != nil {
			var zero T
			return zero, err
		}
	}
	return v, nil
}

// DecodeAll decodes a list of documents, as found in a response's data.
func (c *Converter[T]) DecodeAll(ctx context.Context, docs []any) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, raw := range docs {
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d: expected object, got %T", i, raw)
		}
		v, err := c.Decode(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Encode builds the wire document for v.
func (c *Converter[T]) Encode(ctx context.Context, v T) (Document, error) {
	doc := Document{}
	for i := range c.fields {
		f := &c.fields[i]
		if !f.retention.encodes() {
			continue
		}
		raw, ok := f.get(v)
		if !ok {
			if f.optional {
				continue
			}
			return nil, &MissingAttributeError{Attribute: f.attr}
		}
		out, err := f.ToWire(ctx, raw)
		if err != nil {
			return nil, err
		}
		if out == nil {
			continue
		}
		SetNested(doc, f.path, out)
	}
	if c.postEncode != nil {
		if err := c.postEncode(ctx, v, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// EncodeSearch builds a query document from criteria keyed by criterion
// name. Keys are processed in sorted order so errors are deterministic.
func (c *Converter[T]) EncodeSearch(ctx context.Context, criteria map[string]any) (Document, error) {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := Document{}
	for _, k := range keys {
		f, ok := c.byCriterion[k]
		if !ok || !f.retention.encodes() {
			return nil, &UnknownCriterionError{Criterion: k}
		}
		v, err := f.SearchValue(ctx, criteria[k])
		if err != nil {
			return nil, err
		}
		SetNested(doc, f.searchPath, v)
	}
	return doc, nil
}
