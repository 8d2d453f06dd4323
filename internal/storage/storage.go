package storage

import (
	"errors"

	"weightedVault/internal/model"
)

// Storage defines a sink for vault events.
type Storage interface {
	PutEventBatch(events []model.Event) error
}

// Multi fans a batch out to several sinks. Every sink sees the batch; the
// errors are joined.
type Multi []Storage

func (m Multi) PutEventBatch(events []model.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PutEventBatch(events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in a slice. It is used by tests and dry runs.
type Memory struct {
	Events []model.Event
}

func (m *Memory) PutEventBatch(events []model.Event) error {
	m.Events = append(m.Events, events...)
	return nil
}

// Named returns the events with the given name.
func (m *Memory) Named(name string) []model.Event {
	var out []model.Event
	for _, ev := range m.Events {
		if ev.EventName == name {
			out = append(out, ev)
		}
	}
	return out
}
