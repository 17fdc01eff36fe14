package convert

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField indicates a required path was absent while decoding.
	ErrMissingField = errors.New("missing field")
	// ErrMissingAttribute indicates a required attribute was unset while encoding.
	ErrMissingAttribute = errors.New("missing attribute")
	// ErrTransform indicates a transform function rejected a value.
	ErrTransform = errors.New("transform failed")
	// ErrUnknownCriterion indicates a search criterion no field declares.
	ErrUnknownCriterion = errors.New("unknown search criterion")
	// ErrTypeMismatch indicates a search value of a type the criterion does not accept.
	ErrTypeMismatch = errors.New("type mismatch")
)

// MissingFieldError is returned by decoding when Path is absent and no
// default or fallback was declared.
type MissingFieldError struct {
	Path string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s not found in provided document", e.Path)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// MissingAttributeError is returned by encoding when a required attribute
// is unset on the entity.
type MissingAttributeError struct {
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("provided object does not have attribute %s", e.Attribute)
}

func (e *MissingAttributeError) Is(target error) bool { return target == ErrMissingAttribute }

// Direction names the conversion direction a TransformError occurred in.
type Direction string

const (
	Decoding Direction = "decode"
	Encoding Direction = "encode"
)

// TransformError wraps an error raised by a field's transform or setter.
type TransformError struct {
	Field     string
	Direction Direction
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Direction, e.Field, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

func (e *TransformError) Is(target error) bool { return target == ErrTransform }

// UnknownCriterionError is returned for a search key that maps to no field.
type UnknownCriterionError struct {
	Criterion string
}

func (e *UnknownCriterionError) Error() string {
	return fmt.Sprintf("unknown search criterion %q", e.Criterion)
}

func (e *UnknownCriterionError) Is(target error) bool { return target == ErrUnknownCriterion }

// TypeMismatchError is returned when a search value has none of the types
// its criterion accepts.
type TypeMismatchError struct {
	Criterion string
	Expected  []string
	Actual    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected: %s. actual: %s", e.Criterion, strings.Join(e.Expected, ", "), e.Actual)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }
