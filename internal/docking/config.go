package docking

import (
	"time"

	"github.com/shakedasido/AutoLink/internal/config"
)

// Config holds the maneuver constants.
type Config struct {
	HalfAxle        float64 // Half the wheel track, same unit as the pose
	ApproachSpeed   float64 // Outer wheel duty while following the arc
	SlowSpeed       float64 // Duty for in-place rotation, creep and reversing
	MidRange        float64 // Approach ends below this range
	MinRange        float64 // CreepIn ends below this range
	MinAngleDeg     float64 // Align ends when |angle| is below this
	MaxMissedCycles int     // Consecutive invalid poses before aborting

	ArmDwell        time.Duration
	SettleDwell     time.Duration
	ReverseDuration time.Duration // Disconnect back-off
}

// DefaultConfig returns the built-in maneuver constants.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyDockingConfig())
}

// ConfigFromTuning builds a Config from a loaded DockingConfig.
func ConfigFromTuning(cfg *config.DockingConfig) Config {
	return Config{
		HalfAxle:        cfg.GetHalfAxle(),
		ApproachSpeed:   cfg.GetApproachSpeed(),
		SlowSpeed:       cfg.GetSlowSpeed(),
		MidRange:        cfg.GetMidRange(),
		MinRange:        cfg.GetMinRange(),
		MinAngleDeg:     cfg.GetMinAngleDeg(),
		MaxMissedCycles: cfg.GetMaxMissedCycles(),
		ArmDwell:        cfg.GetArmDwell(),
		SettleDwell:     cfg.GetSettleDwell(),
		ReverseDuration: cfg.GetReverseDuration(),
	}
}
