package docking

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/geometry"
	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/posefilter"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

var logf = monitoring.Tagged("docking")

// Session is one docking attempt. It is owned by the control loop and is not
// safe for concurrent use. Once Complete or Aborted it ignores further steps;
// a retry needs a new Session.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time

	Phase       Phase
	MissCount   int
	AbortReason string

	cfg   Config
	clock timeutil.Clock

	settle timeutil.Deadline
	latch  *script
}

// Begin starts a new attempt in the Approach phase.
func Begin(cfg Config, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: clock.Now(),
		Phase:     PhaseApproach,
		cfg:       cfg,
		clock:     clock,
	}
	logf("session %s: begin", s.ID)
	return s
}

// Status reports the attempt outcome so far.
func (s *Session) Status() Status {
	switch s.Phase {
	case PhaseComplete:
		return StatusComplete
	case PhaseAborted:
		return StatusAborted
	}
	return StatusRunning
}

// Settling reports whether a stop-and-settle dwell is pending.
func (s *Session) Settling() bool {
	return s.settle.Armed() && !s.settle.Expired(s.clock)
}

// Step advances the attempt by one control cycle.
func (s *Session) Step(pose posefilter.TrackedPose, geo geometry.DockingGeometry) Output {
	if s.Phase.Terminal() {
		return s.output()
	}

	if pose.Valid {
		s.MissCount = 0
	} else {
		s.MissCount++
		if s.MissCount >= s.cfg.MaxMissedCycles {
			return s.abort(fmt.Sprintf("target lost for %d cycles", s.MissCount))
		}
		// the latch sequence is timed only; the marker is often out of
		// view this close
		if s.Phase != PhaseLatch {
			return s.output()
		}
	}

	if s.settle.Armed() {
		if !s.settle.Expired(s.clock) {
			return s.output()
		}
		s.settle.Clear()
	}

	switch s.Phase {
	case PhaseApproach:
		if pose.Range < s.cfg.MidRange {
			return s.transition(PhaseAlign, fmt.Sprintf("range %.1f below %.1f", pose.Range, s.cfg.MidRange))
		}
		return s.send(s.approachCommand(geo))

	case PhaseAlign:
		if math.Abs(pose.Angle) < s.cfg.MinAngleDeg {
			return s.transition(PhaseCreepIn, fmt.Sprintf("angle %.1f within %.1f", pose.Angle, s.cfg.MinAngleDeg))
		}
		return s.send(s.alignCommand(pose.Angle))

	case PhaseCreepIn:
		if pose.Range < s.cfg.MinRange {
			return s.transition(PhaseLatch, fmt.Sprintf("range %.1f below %.1f", pose.Range, s.cfg.MinRange))
		}
		return s.send(driver.Forward(s.cfg.SlowSpeed))

	case PhaseLatch:
		return s.stepLatch()
	}
	return s.output()
}

// Cancel is the emergency stop: it emits a full stop and aborts from any
// non-terminal phase, including during a dwell.
func (s *Session) Cancel(reason string) Output {
	if s.Phase.Terminal() {
		return s.output()
	}
	if reason == "" {
		reason = "cancelled"
	}
	return s.abort(reason)
}

func (s *Session) approachCommand(geo geometry.DockingGeometry) driver.Command {
	primary := s.cfg.ApproachSpeed
	secondary := primary * geo.SteeringRatio(s.cfg.HalfAxle)
	if geo.LateralSign > 0 {
		return driver.Command{LeftDuty: primary, RightDuty: secondary}.Clamp()
	}
	return driver.Command{LeftDuty: secondary, RightDuty: primary}.Clamp()
}

func (s *Session) alignCommand(angle float64) driver.Command {
	speed := s.cfg.SlowSpeed
	if angle > 0 {
		return driver.Command{LeftDuty: speed, RightDuty: speed, LeftReverse: true}
	}
	return driver.Command{LeftDuty: speed, RightDuty: speed, RightReverse: true}
}

func (s *Session) stepLatch() Output {
	if s.latch == nil {
		s.latch = &script{steps: []scriptStep{
			{name: "arm_up", command: driver.Command{ArmUp: true}, hold: s.cfg.ArmDwell},
			{name: "settle", command: driver.Stop(), hold: s.cfg.SettleDwell},
		}}
	}
	cmd, send, done := s.latch.advance(s.clock)
	if done {
		return s.finish(PhaseComplete, "arm raised")
	}
	out := s.output()
	out.Command, out.Send = cmd, send
	return out
}

// transition stops the wheels, moves to next and arms the settle dwell.
func (s *Session) transition(next Phase, reason string) Output {
	tr := s.changePhase(next, reason)
	s.settle.Arm(s.clock, s.cfg.SettleDwell)
	out := s.send(driver.Stop())
	out.Transition = tr
	return out
}

func (s *Session) abort(reason string) Output {
	s.AbortReason = reason
	out := s.finish(PhaseAborted, reason)
	out.Command, out.Send = driver.Stop(), true
	return out
}

func (s *Session) finish(terminal Phase, reason string) Output {
	tr := s.changePhase(terminal, reason)
	s.settle.Clear()
	s.EndedAt = s.clock.Now()
	out := s.output()
	out.Transition = tr
	return out
}

func (s *Session) changePhase(next Phase, reason string) *Transition {
	tr := &Transition{From: string(s.Phase), To: string(next), At: s.clock.Now(), Reason: reason}
	logf("session %s: %s -> %s (%s)", s.ID, s.Phase, next, reason)
	s.Phase = next
	return tr
}

func (s *Session) send(cmd driver.Command) Output {
	out := s.output()
	out.Command, out.Send = cmd, true
	return out
}

func (s *Session) output() Output {
	out := Output{Status: s.Status(), Phase: s.Phase}
	if s.latch != nil {
		out.Stage = s.latch.current()
	}
	return out
}
