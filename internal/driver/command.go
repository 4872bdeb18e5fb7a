// Package driver turns wheel and actuator commands into writes to the motor
// board.
package driver

import (
	"context"
	"fmt"
	"math"
)

// Command is one actuation request: a PWM duty per wheel in percent plus
// direction, and the three digital actuator outputs.
type Command struct {
	LeftDuty     float64 `json:"left_duty"`
	RightDuty    float64 `json:"right_duty"`
	LeftReverse  bool    `json:"left_reverse"`
	RightReverse bool    `json:"right_reverse"`
	Latch        bool    `json:"latch"`
	ArmUp        bool    `json:"arm_up"`
	ArmDown      bool    `json:"arm_down"`
}

// Stop is the full-stop command: no drive, no actuators.
func Stop() Command { return Command{} }

// Forward drives both wheels forward at the same duty.
func Forward(duty float64) Command {
	return Command{LeftDuty: duty, RightDuty: duty}
}

// Reverse drives both wheels backwards at the same duty.
func Reverse(duty float64) Command {
	return Command{LeftDuty: duty, RightDuty: duty, LeftReverse: true, RightReverse: true}
}

// Clamp returns c with both duties limited to [0, 100]. NaN duties become 0.
func (c Command) Clamp() Command {
	c.LeftDuty = clampDuty(c.LeftDuty)
	c.RightDuty = clampDuty(c.RightDuty)
	return c
}

func clampDuty(d float64) float64 {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// IsStop reports whether c drives nothing.
func (c Command) IsStop() bool {
	c = c.Clamp()
	return c.LeftDuty == 0 && c.RightDuty == 0 && !c.Latch && !c.ArmUp && !c.ArmDown
}

// Line encodes the clamped command in the board's line protocol:
//
//	M <left duty> <right duty> <left rev> <right rev> <latch> <arm up> <arm down>
//
// Duties are rounded to whole percent; flags are 0 or 1.
func (c Command) Line() string {
	c = c.Clamp()
	return fmt.Sprintf("M %d %d %d %d %d %d %d",
		int(math.Round(c.LeftDuty)), int(math.Round(c.RightDuty)),
		flag(c.LeftReverse), flag(c.RightReverse),
		flag(c.Latch), flag(c.ArmUp), flag(c.ArmDown))
}

func (c Command) String() string { return c.Line() }

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Driver applies commands to the drive train.
type Driver interface {
	Apply(ctx context.Context, cmd Command) error
	Stop(ctx context.Context) error
}
