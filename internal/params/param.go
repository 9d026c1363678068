package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Access controls whether a parameter may change at runtime.
type Access int

// Access modes.
const (
	ReadOnly Access = iota
	Dynamic
)

func (a Access) String() string {
	if a == Dynamic {
		return "dynamic"
	}
	return "read-only"
}

// MarshalText implements encoding.TextMarshaler.
func (a Access) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Scalar is the set of parameter value types.
type Scalar interface {
	bool | int | float64 | string
}

// Definition describes a declared parameter.
type Definition struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Access      Access   `json:"access"`
	Default     any      `json:"default"`
	Description string   `json:"description,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	OneOf       []any    `json:"one_of,omitempty"`

	check func(v any) (any, error)
}

// Check coerces v to the parameter type and validates it.
func (d *Definition) Check(v any) (any, error) {
	return d.check(v)
}

// Option adds a constraint or description to a declaration.
type Option func(*Definition)

// Range restricts a numeric parameter to [lo, hi].
func Range(lo, hi float64) Option {
	return func(d *Definition) {
		d.Min = &lo
		d.Max = &hi
	}
}

// OneOf restricts a parameter to an enumerated set of values.
func OneOf(values ...any) Option {
	return func(d *Definition) {
		d.OneOf = values
	}
}

// Describe sets the human readable description.
func Describe(text string) Option {
	return func(d *Definition) {
		d.Description = text
	}
}

var errWrongType = errors.New("wrong type")

func typeName[T Scalar]() string {
	var zero T
	switch any(zero).(type) {
	case bool:
		return "bool"
	case int:
		return "int"
	case float64:
		return "double"
	default:
		return "string"
	}
}

// coerce converts decoded TOML/JSON values to T. Integral floats are
// accepted for int parameters and integers for double parameters.
func coerce[T Scalar](v any) (T, error) {
	var zero T
	var out any
	switch any(zero).(type) {
	case bool:
		b, ok := v.(bool)
		if !ok {
			return zero, fmt.Errorf("%w: want bool, got %T", errWrongType, v)
		}
		out = b
	case int:
		switch n := v.(type) {
		case int:
			out = n
		case int64:
			out = int(n)
		case float64:
			if n != math.Trunc(n) {
				return zero, fmt.Errorf("%w: want int, got %v", errWrongType, n)
			}
			out = int(n)
		default:
			return zero, fmt.Errorf("%w: want int, got %T", errWrongType, v)
		}
	case float64:
		switch n := v.(type) {
		case float64:
			out = n
		case float32:
			out = float64(n)
		case int:
			out = float64(n)
		case int64:
			out = float64(n)
		default:
			return zero, fmt.Errorf("%w: want double, got %T", errWrongType, v)
		}
	case string:
		s, ok := v.(string)
		if !ok {
			return zero, fmt.Errorf("%w: want string, got %T", errWrongType, v)
		}
		out = s
	}
	return out.(T), nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// newDefinition builds a definition whose check coerces to T and applies
// the declared constraints.
func newDefinition[T Scalar](name string, def T, access Access, opts []Option) *Definition {
	d := &Definition{
		Name:    name,
		Type:    typeName[T](),
		Access:  access,
		Default: def,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.check = func(v any) (any, error) {
		val, err := coerce[T](v)
		if err != nil {
			return nil, err
		}
		if n, ok := numeric(any(val)); ok {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("%v is not a finite number", n)
			}
			if d.Min != nil && n < *d.Min {
				return nil, fmt.Errorf("%v below minimum %v", n, *d.Min)
			}
			if d.Max != nil && n > *d.Max {
				return nil, fmt.Errorf("%v above maximum %v", n, *d.Max)
			}
		}
		if len(d.OneOf) > 0 && !slices.Contains(d.OneOf, any(val)) {
			return nil, fmt.Errorf("%v not one of %v", val, d.OneOf)
		}
		return val, nil
	}
	return d
}
