package convert

// Operator wraps one or more criterion values with query semantics.
type Operator interface {
	// Op is the wire operator key, e.g. "$in".
	Op() string
	// Operands returns the wrapped values.
	Operands() []any

	sequence() bool
}

type unaryOp struct {
	op    string
	value any
}

func (u unaryOp) Op() string      { return u.op }
func (u unaryOp) Operands() []any { return []any{u.value} }
func (u unaryOp) sequence() bool  { return false }

type sequenceOp struct {
	op     string
	values []any
}

func (s sequenceOp) Op() string      { return s.op }
func (s sequenceOp) Operands() []any { return s.values }
func (s sequenceOp) sequence() bool  { return true }

// Not negates a criterion: {"$not": v}.
func Not(v any) Operator { return unaryOp{op: "$not", value: v} }

// Contains matches collections containing v: {"$contains": v}.
func Contains(v any) Operator { return unaryOp{op: "$contains", value: v} }

// AnyOf matches any of the given values: {"$in": [...]}.
func AnyOf(vs ...any) Operator { return sequenceOp{op: "$in", values: vs} }

// NoneOf matches none of the given values: {"$notIn": [...]}.
func NoneOf(vs ...any) Operator { return sequenceOp{op: "$notIn", values: vs} }

// encodeOperator sanitizes every operand and emits the operator's wire shape.
func encodeOperator(op Operator, sanitize func(any) (any, error)) (Document, error) {
	operands := op.Operands()
	out := make([]any, 0, len(operands))
	for _, v := range operands {
		s, err := sanitize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if op.sequence() {
		return Document{op.Op(): out}, nil
	}
	return Document{op.Op(): out[0]}, nil
}
