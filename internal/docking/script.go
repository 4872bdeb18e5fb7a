package docking

import (
	"time"

	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

// scriptStep is one timed command of a fixed actuator sequence.
type scriptStep struct {
	name    string
	command driver.Command
	hold    time.Duration
}

// script plays a fixed sequence of timed commands. Each command is emitted
// once, on the step that starts it; the next begins when its hold expires.
type script struct {
	steps    []scriptStep
	idx      int
	started  bool
	deadline timeutil.Deadline
}

// advance moves the script forward. It returns the command to send, if any,
// and whether the last hold has expired.
func (s *script) advance(c timeutil.Clock) (cmd driver.Command, send, done bool) {
	if !s.started {
		s.started = true
		return s.start(c)
	}
	if s.idx >= len(s.steps) {
		return driver.Command{}, false, true
	}
	if !s.deadline.Expired(c) {
		return driver.Command{}, false, false
	}
	s.idx++
	return s.start(c)
}

func (s *script) start(c timeutil.Clock) (driver.Command, bool, bool) {
	if s.idx >= len(s.steps) {
		s.deadline.Clear()
		return driver.Command{}, false, true
	}
	st := s.steps[s.idx]
	s.deadline.Arm(c, st.hold)
	return st.command, true, false
}

// current names the running step, or "" before start and after the end.
func (s *script) current() string {
	if !s.started || s.idx >= len(s.steps) {
		return ""
	}
	return s.steps[s.idx].name
}
