package params

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/state"
)

// Listener is notified after a new Set has been published. Listeners run
// one batch at a time in publish order and must not apply changes themselves.
type Listener func(old, new *Set)

// Store holds parameter definitions and the current value set.
type Store struct {
	// notifyMu is held from publishing a Set until its listeners return.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	defs      map[string]*Definition
	overrides map[string]any
	current   *state.Cell[*Set]
	listeners []Listener
	logger    logging.Logger
}

// NewStore creates a store. overrides maps dotted parameter names to values
// decoded from the configuration file.
func NewStore(overrides map[string]any, logger logging.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		defs:      make(map[string]*Definition),
		overrides: maps.Clone(overrides),
		current:   state.NewCell(newSet(map[string]any{})),
		logger:    logger,
	}
}

// Declare registers a parameter and returns its initial value: the override
// when it is valid, else def.
func Declare[T Scalar](s *Store, name string, def T, access Access, opts ...Option) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.defs[name]; ok {
		v, _ := s.current.Load().Value(existing.Name)
		if t, ok := v.(T); ok {
			return t
		}
		s.logger.Warn("Parameter redeclared with a different type", "name", name)
		return def
	}

	d := newDefinition(name, def, access, opts)
	if _, err := d.check(def); err != nil {
		panic(fmt.Sprintf("params: default for %s is invalid: %v", name, err))
	}

	value := def
	if raw, ok := s.overrides[name]; ok {
		checked, err := d.check(raw)
		if err != nil {
			s.logger.Warn("Invalid parameter override, using default",
				"name", name, "value", raw, "default", def, "error", err)
		} else {
			value = checked.(T)
		}
	}

	s.defs[name] = d
	s.current.Store(s.current.Load().with(map[string]any{name: value}))

	s.logger.Debug("Parameter declared", "name", name, "value", value, "access", access)
	return value
}

// Current returns the current value set.
func (s *Store) Current() *Set {
	return s.current.Load()
}

// Definition returns the definition of name.
func (s *Store) Definition(name string) (*Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	return d, ok
}

// Definitions returns all definitions sorted by name.
func (s *Store) Definitions() []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Definition, 0, len(s.defs))
	for _, name := range slices.Sorted(maps.Keys(s.defs)) {
		out = append(out, *s.defs[name])
	}
	return out
}

// UnusedOverrides returns override keys that match no declared parameter.
func (s *Store) UnusedOverrides() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for name := range s.overrides {
		if _, ok := s.defs[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// OnChange registers a listener called after every accepted change batch.
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
