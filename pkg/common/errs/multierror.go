package errs

import (
	"strings"
	"sync"
)

// MultiError aggregates errors from concurrent batch work. Safe for use by
// multiple goroutines.
type MultiError struct {
	mu     sync.Mutex
	Errors []error
}

func (m *MultiError) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

func (m *MultiError) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors) == 0
}

// ErrorOrNil returns nil when no errors were collected, and the first error
// when exactly one was, so single failures keep their concrete type.
func (m *MultiError) ErrorOrNil() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
