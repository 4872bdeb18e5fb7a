package docking

import (
	"time"

	"github.com/google/uuid"

	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

// Disconnect is the scripted release from a docked frame: lower the arm,
// pause, back straight off, stop. It needs no pose.
type Disconnect struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Stage     string
	Status    Status

	clock  timeutil.Clock
	script script
}

// BeginDisconnect prepares the release sequence. The first Step emits the
// arm-down command.
func BeginDisconnect(cfg Config, clock timeutil.Clock) *Disconnect {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := &Disconnect{
		ID:        uuid.NewString(),
		StartedAt: clock.Now(),
		Status:    StatusRunning,
		clock:     clock,
		script: script{steps: []scriptStep{
			{name: "arm_down", command: driver.Command{ArmDown: true}, hold: cfg.ArmDwell},
			{name: "settle", command: driver.Stop(), hold: cfg.SettleDwell},
			{name: "reverse", command: driver.Reverse(cfg.SlowSpeed), hold: cfg.ReverseDuration},
			{name: "stop", command: driver.Stop(), hold: cfg.SettleDwell},
		}},
	}
	logf("disconnect %s: begin", d.ID)
	return d
}

// Step advances the sequence by one control cycle.
func (d *Disconnect) Step() Output {
	if d.Status != StatusRunning {
		return Output{Status: d.Status, Stage: d.Stage}
	}

	prev := d.Stage
	cmd, send, done := d.script.advance(d.clock)
	if done {
		d.Status = StatusComplete
		d.Stage = string(PhaseComplete)
		d.EndedAt = d.clock.Now()
	} else {
		d.Stage = d.script.current()
	}

	out := Output{Command: cmd, Send: send, Status: d.Status, Stage: d.Stage}
	if d.Stage != prev {
		out.Transition = &Transition{From: prev, To: d.Stage, At: d.clock.Now()}
		logf("disconnect %s: %q -> %q", d.ID, prev, d.Stage)
	}
	return out
}

// Cancel stops the wheels and ends the sequence as aborted.
func (d *Disconnect) Cancel(reason string) Output {
	if d.Status != StatusRunning {
		return Output{Status: d.Status, Stage: d.Stage}
	}
	prev := d.Stage
	d.Status = StatusAborted
	d.Stage = string(PhaseAborted)
	d.EndedAt = d.clock.Now()
	logf("disconnect %s: cancelled (%s)", d.ID, reason)
	return Output{
		Command:    driver.Stop(),
		Send:       true,
		Status:     StatusAborted,
		Stage:      d.Stage,
		Transition: &Transition{From: prev, To: d.Stage, At: d.EndedAt, Reason: reason},
	}
}
