package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidScalar indicates a value that is not a string, number, or boolean.
var ErrInvalidScalar = errors.New("invalid scalar value")

// ScalarKind enumerates the value types a Scalar may carry.
type ScalarKind uint8

const (
	ScalarInvalid ScalarKind = iota
	ScalarString
	ScalarNumber
	ScalarBool
)

// String returns the lower-case kind name.
func (k ScalarKind) String() string {
	switch k {
	case ScalarString:
		return "string"
	case ScalarNumber:
		return "number"
	case ScalarBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Scalar is a tagged string, number, or boolean value.
type Scalar struct {
	kind ScalarKind
	str  string
	num  float64
	b    bool
}

// StringValue wraps a string.
func StringValue(v string) Scalar {
	return Scalar{kind: ScalarString, str: v}
}

// NumberValue wraps a number.
func NumberValue(v float64) Scalar {
	return Scalar{kind: ScalarNumber, num: v}
}

// BoolValue wraps a boolean.
func BoolValue(v bool) Scalar {
	return Scalar{kind: ScalarBool, b: v}
}

// Kind returns the tag of the scalar.
func (s Scalar) Kind() ScalarKind {
	return s.kind
}

// IsValid reports whether the scalar carries a value.
func (s Scalar) IsValid() bool {
	return s.kind != ScalarInvalid
}

// AsString returns the string value when the scalar is a string.
func (s Scalar) AsString() (string, bool) {
	return s.str, s.kind == ScalarString
}

// AsNumber returns the numeric value when the scalar is a number.
func (s Scalar) AsNumber() (float64, bool) {
	return s.num, s.kind == ScalarNumber
}

// AsBool returns the boolean value when the scalar is a boolean.
func (s Scalar) AsBool() (bool, bool) {
	return s.b, s.kind == ScalarBool
}

// Equal reports whether both scalars have the same kind and value.
func (s Scalar) Equal(other Scalar) bool {
	if s.kind != other.kind {
		return false
	}

	switch s.kind {
	case ScalarString:
		return s.str == other.str
	case ScalarNumber:
		return s.num == other.num
	case ScalarBool:
		return s.b == other.b
	default:
		return false
	}
}

// String renders the scalar for logs.
func (s Scalar) String() string {
	switch s.kind {
	case ScalarString:
		return s.str
	case ScalarNumber:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(s.b)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the scalar as a plain JSON value.
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case ScalarString:
		return json.Marshal(s.str)
	case ScalarNumber:
		return json.Marshal(s.num)
	case ScalarBool:
		return json.Marshal(s.b)
	default:
		return nil, ErrInvalidScalar
	}
}

// UnmarshalJSON accepts JSON strings, numbers, and booleans only.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScalar, err)
	}

	switch v := raw.(type) {
	case string:
		*s = StringValue(v)
	case float64:
		*s = NumberValue(v)
	case bool:
		*s = BoolValue(v)
	default:
		return fmt.Errorf("%w: unsupported json type %T", ErrInvalidScalar, raw)
	}

	return nil
}

// ScalarMap is a string-keyed map of scalars used for grant conditions,
// request contexts, and permission metadata.
type ScalarMap map[string]Scalar

// Clone returns an independent copy; nil stays nil.
func (m ScalarMap) Clone() ScalarMap {
	if m == nil {
		return nil
	}
	out := make(ScalarMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys and equal values.
func (m ScalarMap) Equal(other ScalarMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Validate ensures every entry has a non-empty key and a valid scalar.
func (m ScalarMap) Validate() error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidScalar)
		}
		if !v.IsValid() {
			return fmt.Errorf("%w: key %q", ErrInvalidScalar, k)
		}
	}
	return nil
}
