package params

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Reason classifies a rejected change.
type Reason int

// Rejection reasons.
const (
	ReasonReadOnly Reason = iota
	ReasonInvalidValue
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonReadOnly:
		return "read-only"
	case ReasonInvalidValue:
		return "invalid value"
	case ReasonUnknown:
		return "unknown parameter"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// RejectError reports why a change was refused.
type RejectError struct {
	Name   string
	Reason Reason
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parameter %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("parameter %s: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// Change is one requested parameter update.
type Change struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ChangeResult is the outcome of one change in a batch.
type ChangeResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// BatchResult is the outcome of ApplyBatch.
type BatchResult struct {
	Applied bool
	Results []ChangeResult
}

// Err joins the rejections in the batch.
func (r BatchResult) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Gate validates and applies runtime changes.
type Gate struct {
	store *Store
}

// NewGate returns a gate for store.
func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// Validate checks a single change without applying it.
func (g *Gate) Validate(name string, value any) error {
	_, err := g.validate(name, value)
	return err
}

func (g *Gate) validate(name string, value any) (any, error) {
	d, ok := g.store.Definition(name)
	if !ok {
		return nil, &RejectError{Name: name, Reason: ReasonUnknown}
	}
	if d.Access == ReadOnly {
		return nil, &RejectError{Name: name, Reason: ReasonReadOnly}
	}
	checked, err := d.Check(value)
	if err != nil {
		return nil, &RejectError{Name: name, Reason: ReasonInvalidValue, Err: err}
	}
	return checked, nil
}

// Apply applies a single change.
func (g *Gate) Apply(name string, value any) error {
	return g.ApplyBatch([]Change{{Name: name, Value: value}}).Err()
}

// ApplyBatch validates every change and, only if all pass, publishes one new
// Set and notifies listeners.
func (g *Gate) ApplyBatch(changes []Change) BatchResult {
	s := g.store
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()

	result := BatchResult{Results: make([]ChangeResult, len(changes))}
	accepted := make(map[string]any, len(changes))
	failed := false
	for i, c := range changes {
		result.Results[i].Name = c.Name
		d, ok := s.defs[c.Name]
		var err error
		switch {
		case !ok:
			err = &RejectError{Name: c.Name, Reason: ReasonUnknown}
		case d.Access == ReadOnly:
			err = &RejectError{Name: c.Name, Reason: ReasonReadOnly}
		default:
			var v any
			if v, err = d.check(c.Value); err != nil {
				err = &RejectError{Name: c.Name, Reason: ReasonInvalidValue, Err: err}
			} else {
				accepted[c.Name] = v
			}
		}
		if err != nil {
			result.Results[i].Err = err
			failed = true
		}
	}

	if failed || len(accepted) == 0 {
		s.mu.Unlock()
		return result
	}

	old := s.current.Load()
	next := old.with(accepted)
	s.current.Store(next)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	result.Applied = true
	for _, fn := range listeners {
		fn(old, next)
	}
	s.logger.Info("Parameters updated", "changes", describe(changes))
	return result
}

// ApplyFile applies values reloaded from the configuration file. Entries
// equal to the current value are skipped and changes to read-only
// parameters are logged and ignored.
func (g *Gate) ApplyFile(values map[string]any) BatchResult {
	s := g.store
	current := s.Current()

	var changes []Change
	for name, raw := range values {
		d, ok := s.Definition(name)
		if !ok {
			continue
		}
		checked, err := d.Check(raw)
		if err == nil {
			if cur, _ := current.Value(name); reflect.DeepEqual(cur, checked) {
				continue
			}
		}
		if d.Access == ReadOnly {
			s.logger.Warn("Ignoring change to read-only parameter, restart required", "name", name, "value", raw)
			continue
		}
		changes = append(changes, Change{Name: name, Value: raw})
	}
	if len(changes) == 0 {
		return BatchResult{}
	}

	res := g.ApplyBatch(changes)
	if err := res.Err(); err != nil {
		s.logger.Warn("Rejected parameter reload", "error", err)
	}
	return res
}

func describe(changes []Change) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = fmt.Sprintf("%s=%v", c.Name, c.Value)
	}
	return strings.Join(parts, " ")
}
