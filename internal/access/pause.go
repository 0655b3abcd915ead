package access

import (
	"sync/atomic"

	dErrors "receiv3/pkg/domain-errors"
)

// Switch is the engine's circuit breaker.
type Switch struct {
	paused atomic.Bool
}

func NewSwitch(paused bool) *Switch {
	s := &Switch{}
	s.paused.Store(paused)
	return s
}

func (s *Switch) Paused() bool { return s.paused.Load() }

// Set flips the breaker and reports whether the value changed.
func (s *Switch) Set(paused bool) bool {
	return s.paused.Swap(paused) != paused
}

// Guard fails with CodePaused while the breaker is engaged.
func (s *Switch) Guard() error {
	if s.paused.Load() {
		return dErrors.Wrap(ErrPaused, dErrors.CodePaused, "operation blocked while paused, retry after unpause")
	}
	return nil
}
