package params

import (
	"maps"
	"slices"
)

// Set is an immutable snapshot of parameter values.
type Set struct {
	values map[string]any
}

func newSet(values map[string]any) *Set {
	return &Set{values: values}
}

// with returns a copy of s with changes applied.
func (s *Set) with(changes map[string]any) *Set {
	next := make(map[string]any, len(s.values)+len(changes))
	maps.Copy(next, s.values)
	maps.Copy(next, changes)
	return newSet(next)
}

// Value returns the raw value of name.
func (s *Set) Value(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Names returns all parameter names in sorted order.
func (s *Set) Names() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Map returns a copy of the values.
func (s *Set) Map() map[string]any {
	return maps.Clone(s.values)
}

// Get returns the value of name as T, or the zero value if it is missing.
func Get[T Scalar](s *Set, name string) T {
	v, _ := s.Value(name)
	t, _ := v.(T)
	return t
}

// Changed reports whether name differs between two sets.
func Changed(old, new *Set, name string) bool {
	a, _ := old.Value(name)
	b, _ := new.Value(name)
	return a != b
}
