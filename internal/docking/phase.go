// Package docking runs one docking attempt: arc approach, in-place
// alignment, creep-in and latch, with stop-and-settle between phases.
//
// A Session is stepped once per control cycle with the filtered pose and its
// geometry. Nothing here blocks; dwells are deadlines on the injected clock,
// so aborts and cancellation stay responsive throughout.
package docking

import (
	"time"

	"github.com/shakedasido/AutoLink/internal/driver"
)

// Phase is the maneuver phase of a Session.
type Phase string

const (
	PhaseApproach Phase = "approach" // Follow the constant-radius arc towards the aim point
	PhaseAlign    Phase = "align"    // Rotate in place until square to the target
	PhaseCreepIn  Phase = "creep_in" // Drive straight in at low speed
	PhaseLatch    Phase = "latch"    // Raise the arm and let it settle
	PhaseComplete Phase = "complete"
	PhaseAborted  Phase = "aborted"
)

var phaseOrder = map[Phase]int{
	PhaseApproach: 0,
	PhaseAlign:    1,
	PhaseCreepIn:  2,
	PhaseLatch:    3,
	PhaseComplete: 4,
	PhaseAborted:  4,
}

// Order is the phase's position in the maneuver. Terminal phases share the
// highest order.
func (p Phase) Order() int { return phaseOrder[p] }

// Terminal reports whether no further steps have any effect.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseAborted }

// Status is the attempt outcome reported on every step.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// Transition records one phase or stage change.
type Transition struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Output is the result of one step. When Send is false the driver keeps
// executing whatever it was last given.
type Output struct {
	Command driver.Command `json:"command"`
	Send    bool           `json:"send"`
	Status  Status         `json:"status"`
	Phase   Phase          `json:"phase,omitempty"`
	Stage   string         `json:"stage,omitempty"`

	// Transition is set on the step that changed phase or stage.
	Transition *Transition `json:"transition,omitempty"`
}
