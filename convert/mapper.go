package convert

import (
	"context"
	"reflect"
	"strings"
)

// Retention controls which conversion directions a field takes part in.
type Retention int

const (
	// Both decodes and encodes the field.
	Both Retention = iota
	// ModelOnly decodes the field into the entity but never writes it to the wire.
	ModelOnly
	// WireOnly writes the field to the wire but never decodes it.
	WireOnly
	// Neither ignores the field in both directions.
	Neither
)

func (r Retention) decodes() bool { return r == Both || r == ModelOnly }
func (r Retention) encodes() bool { return r == Both || r == WireOnly }

// Transform converts a value in one direction. Transforms may block, for
// example to resolve a referenced entity, and must honor ctx. Returning a nil
// value marks the attribute as intentionally omitted.
type Transform func(ctx context.Context, v any) (any, error)

// Mapper describes how one attribute is read from and written to a document.
type Mapper struct {
	name       string
	attr       string
	criterion  string
	path       string
	searchPath string

	decode Transform
	encode Transform

	def        any
	hasDefault bool
	fallback   *Mapper

	optional  bool
	retention Retention

	types    []reflect.Type
	nullable bool
}

// Option configures a Mapper.
type Option func(*Mapper)

// NewMapper declares a mapper named name reading from and writing to path.
// The attribute and criterion names default to name.
func NewMapper(name, path string, opts ...Option) *Mapper {
	m := &Mapper{name: name, path: path}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.attr == "" {
		m.attr = name
	}
	if m.criterion == "" {
		m.criterion = name
	}
	if m.searchPath == "" {
		m.searchPath = strings.TrimPrefix(path, "attributes.")
	}
	return m
}

// WithDecode sets the wire-to-model transform.
func WithDecode(t Transform) Option { return func(m *Mapper) { m.decode = t } }

// WithEncode sets the model-to-wire transform. It also sanitizes search
// criterion values.
func WithEncode(t Transform) Option { return func(m *Mapper) { m.encode = t } }

// WithDefault supplies the decoded value used when the path is absent.
// A nil default omits the attribute.
func WithDefault(v any) Option {
	return func(m *Mapper) {
		m.def = v
		m.hasDefault = true
	}
}

// WithFallback decodes through another mapper when the path is absent.
func WithFallback(f *Mapper) Option { return func(m *Mapper) { m.fallback = f } }

// Optional suppresses MissingAttributeError when encoding an unset attribute.
func Optional() Option { return func(m *Mapper) { m.optional = true } }

// WithRetention restricts the directions the field participates in.
func WithRetention(r Retention) Option { return func(m *Mapper) { m.retention = r } }

// WithAttribute overrides the attribute name reported in errors.
func WithAttribute(name string) Option { return func(m *Mapper) { m.attr = name } }

// WithCriterion overrides the public search criterion name.
func WithCriterion(name string) Option { return func(m *Mapper) { m.criterion = name } }

// WithSearchPath overrides where search values are written in query documents.
func WithSearchPath(path string) Option { return func(m *Mapper) { m.searchPath = path } }

// WithTypes restricts the Go types accepted as search values.
func WithTypes(types ...reflect.Type) Option {
	return func(m *Mapper) { m.types = append(m.types, types...) }
}

// Nullable accepts nil as a search value in addition to WithTypes.
func Nullable() Option { return func(m *Mapper) { m.nullable = true } }

// TypeOf returns the reflect.Type of T for use with WithTypes.
func TypeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// Name returns the declaration name.
func (m *Mapper) Name() string { return m.name }

// Path returns the document path.
func (m *Mapper) Path() string { return m.path }

// Criterion returns the search criterion name.
func (m *Mapper) Criterion() string { return m.criterion }

// FromWire extracts and transforms the attribute from doc. An absent path,
// or an explicit null when a default or fallback exists, resolves through the
// fallback mapper, then the default; otherwise a MissingFieldError results.
func (m *Mapper) FromWire(ctx context.Context, doc Document) (any, error) {
	raw, ok := GetNested(doc, m.path)
	if !ok || (raw == nil && (m.fallback != nil || m.hasDefault)) {
		switch {
		case m.fallback != nil:
			return m.fallback.FromWire(ctx, doc)
		case m.hasDefault:
			return m.def, nil
		default:
			return nil, &MissingFieldError{Path: m.path}
		}
	}
	if m.decode == nil {
		return raw, nil
	}
	v, err := m.decode(ctx, raw)
	if err != nil {
		return nil, &TransformError{Field: m.name, Direction: Decoding, Err: err}
	}
	return v, nil
}

// ToWire transforms a model value for the document.
func (m *Mapper) ToWire(ctx context.Context, v any) (any, error) {
	if m.encode == nil {
		return v, nil
	}
	out, err := m.encode(ctx, v)
	if err != nil {
		return nil, &TransformError{Field: m.name, Direction: Encoding, Err: err}
	}
	return out, nil
}

// SearchValue type-checks and sanitizes a criterion value, expanding
// operator markers into their wire shape.
func (m *Mapper) SearchValue(ctx context.Context, v any) (any, error) {
	if op, ok := v.(Operator); ok {
		for _, operand := range op.Operands() {
			if err := m.checkType(operand); err != nil {
				return nil, err
			}
		}
		return encodeOperator(op, func(x any) (any, error) { return m.ToWire(ctx, x) })
	}
	if err := m.checkType(v); err != nil {
		return nil, err
	}
	return m.ToWire(ctx, v)
}

func (m *Mapper) checkType(v any) error {
	if len(m.types) == 0 {
		return nil
	}
	if v == nil {
		if m.nullable {
			return nil
		}
		return m.mismatch("nil")
	}
	vt := reflect.TypeOf(v)
	for _, t := range m.types {
		if vt == t || (t.Kind() == reflect.Interface && vt.Implements(t)) {
			return nil
		}
	}
	return m.mismatch(vt.String())
}

func (m *Mapper) mismatch(actual string) error {
	expected := make([]string, 0, len(m.types)+1)
	for _, t := range m.types {
		expected = append(expected, t.String())
	}
	if m.nullable {
		expected = append(expected, "nil")
	}
	return &TypeMismatchError{Criterion: m.criterion, Expected: expected, Actual: actual}
}
