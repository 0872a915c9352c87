// Package closer runs a shutdown sequence to completion and aggregates its failures.
//
// A shutdown sequence typically stops workers, waits for them, flushes state
// and releases connections. Every step must run even when an earlier one
// fails, otherwise a failed flush leaks a connection. MultiCloser runs all
// registered steps in order and reports the first failure as the primary
// error with any later failures attached as suppressed errors.
//
//	var mc closer.MultiCloser
//	mc.Register(stopWriters)
//	mc.RegisterCloser(conn)
//	if err := mc.Finish(); err != nil {
//	    var se *closer.SuppressedError
//	    if errors.As(err, &se) { ... se.Suppressed() ... }
//	}
package closer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// MultiCloser accumulates cleanup actions and runs them all on Finish.
// The zero value is ready to use. MultiCloser is safe for concurrent use.
type MultiCloser struct {
	mu      sync.Mutex
	actions []multierr.Invoker
}

// Register adds fn to the end of the shutdown sequence.
func (m *MultiCloser) Register(fn func() error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, multierr.Invoke(fn))
}

// RegisterCloser adds c.Close to the end of the shutdown sequence.
func (m *MultiCloser) RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, multierr.Close(c))
}

// Len returns the number of registered actions not yet run.
func (m *MultiCloser) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions)
}

// Finish runs every registered action in registration order, regardless of
// earlier failures, and clears the sequence.
//
// It returns nil if all actions succeed, the error itself if exactly one
// fails, and a *SuppressedError otherwise.
func (m *MultiCloser) Finish() error {
	m.mu.Lock()
	actions := m.actions
	m.actions = nil
	m.mu.Unlock()

	var err error
	for _, action := range actions {
		multierr.AppendInvoke(&err, action)
	}
	return Suppress(multierr.Errors(err)...)
}

// Suppress builds the aggregated error for errs, skipping nil entries.
// The first non-nil error is primary.
func Suppress(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return &SuppressedError{
		primary:    nonNil[0],
		suppressed: nonNil[1:],
	}
}

// SuppressedError is a primary error with later errors attached.
//
// errors.Is and errors.As match the primary and every suppressed error.
type SuppressedError struct {
	primary    error
	suppressed []error
}

// Primary returns the first error of the sequence.
func (e *SuppressedError) Primary() error {
	return e.primary
}

// Suppressed returns the errors that followed the primary one, in order.
func (e *SuppressedError) Suppressed() []error {
	out := make([]error, len(e.suppressed))
	copy(out, e.suppressed)
	return out
}

func (e *SuppressedError) Error() string {
	msgs := make([]string, len(e.suppressed))
	for i, err := range e.suppressed {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v (suppressed: %s)", e.primary, strings.Join(msgs, "; "))
}

// Unwrap returns the primary error followed by the suppressed ones.
func (e *SuppressedError) Unwrap() []error {
	return append([]error{e.primary}, e.suppressed...)
}
