package sink

import (
	"context"
	"fmt"
)

// Named is implemented by sinks that report a name for log and error
// messages.
type Named interface {
	Name() string
}

// Multi writes every batch to each of its sinks in order and stops at the
// first failure.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) WriteHighRate(ctx context.Context, records []Record) error {
	for _, s := range m.sinks {
		if err := s.WriteHighRate(ctx, records); err != nil {
			return fmt.Errorf("%s: %w", nameOf(s), err)
		}
	}
	return nil
}

func (m *Multi) WriteLowRate(ctx context.Context, records []Record) error {
	for _, s := range m.sinks {
		if err := s.WriteLowRate(ctx, records); err != nil {
			return fmt.Errorf("%s: %w", nameOf(s), err)
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", nameOf(s), err)
		}
	}
	return first
}

// Integrator returns the first sink able to integrate, or nil.
func (m *Multi) Integrator() Integrator {
	for _, s := range m.sinks {
		if in, ok := s.(Integrator); ok {
			return in
		}
	}
	return nil
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Name() string {
	return "multi"
}

func nameOf(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
