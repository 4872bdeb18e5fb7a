// Package geometry converts a tracked target pose into the constant-radius
// arc that would carry the robot onto the target, and judges whether that arc
// leaves the robot square enough to dock.
//
// Everything here is a pure function of its inputs.
package geometry

import (
	"math"

	"github.com/shakedasido/AutoLink/internal/config"
	"github.com/shakedasido/AutoLink/internal/posefilter"
)

// Config holds the geometry parameters.
type Config struct {
	AimDistance          float64 // Aim point offset ahead of the target along its heading
	FeasibleToleranceDeg float64 // Max heading error at the end of the arc
}

// DefaultConfig returns the built-in geometry parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyDockingConfig())
}

// ConfigFromTuning builds a Config from a loaded DockingConfig.
func ConfigFromTuning(cfg *config.DockingConfig) Config {
	return Config{
		AimDistance:          cfg.GetAimDistance(),
		FeasibleToleranceDeg: cfg.GetFeasibleToleranceDeg(),
	}
}

// DockingGeometry is the per-cycle steering solution.
type DockingGeometry struct {
	AimX float64 `json:"aim_x"` // lateral offset of the aim point, after the dx guard
	AimZ float64 `json:"aim_z"`

	Bearing        float64 `json:"bearing"`         // radians, atan(dz/dx), measured from the lateral axis
	ForwardBearing float64 `json:"forward_bearing"` // degrees, measured from the forward axis
	HeadingError   float64 `json:"heading_error"`   // degrees between arc end heading and target heading

	TurnRadius  float64 `json:"turn_radius"`
	LateralSign int     `json:"lateral_sign"` // +1 aim point right of the camera, -1 left
	Feasible    bool    `json:"feasible"`
}

// Engine evaluates poses with a fixed Config.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) Engine {
	return Engine{cfg: cfg}
}

// Evaluate computes the geometry for pose using the default parameters.
func Evaluate(pose posefilter.TrackedPose) DockingGeometry {
	return NewEngine(DefaultConfig()).Evaluate(pose)
}

// Evaluate computes the steering geometry for pose. It is called every cycle
// regardless of pose validity; callers ignore the result for invalid poses.
func (e Engine) Evaluate(pose posefilter.TrackedPose) DockingGeometry {
	theta := pose.Angle * math.Pi / 180
	dx := pose.X + e.cfg.AimDistance*math.Sin(theta)
	dz := pose.Z + e.cfg.AimDistance*math.Cos(theta)

	// numeric guard only: an aim point dead ahead would divide by zero
	if dx == 0 {
		dx = 1
	}

	bearing := math.Atan(dz / dx)
	chord := math.Hypot(dx, dz)

	g := DockingGeometry{
		AimX:        dx,
		AimZ:        dz,
		Bearing:     bearing,
		TurnRadius:  chord / (2 * math.Cos(bearing)),
		LateralSign: 1,
	}
	if dx < 0 {
		g.LateralSign = -1
	}

	g.ForwardBearing = ForwardBearing(bearing)
	g.HeadingError = HeadingError(g.ForwardBearing, pose.Angle)
	g.Feasible = g.HeadingError < e.cfg.FeasibleToleranceDeg
	return g
}

// ForwardBearing converts a lateral-axis bearing (radians, from atan) into
// degrees from the forward axis, signed towards the side the arc bends.
func ForwardBearing(bearing float64) float64 {
	b := bearing * 180 / math.Pi
	if bearing > 0 {
		return 90 - b
	}
	return -90 - b
}

// HeadingError is the difference between the heading the robot ends with
// after an arc to a point at forwardBearing (twice that bearing) and the
// target heading, both in degrees.
func HeadingError(forwardBearing, targetAngle float64) float64 {
	return math.Abs(2*forwardBearing - targetAngle)
}

// SteeringRatio returns the inner-to-outer wheel speed ratio for following
// the arc with a differential drive of the given half axle width.
func (g DockingGeometry) SteeringRatio(halfAxle float64) float64 {
	return (g.TurnRadius - halfAxle) / (g.TurnRadius + halfAxle)
}
