// Package posefilter turns the detector's frame-by-frame marker samples into
// a single tracked target pose.
//
// The filter gates each candidate against the last accepted pose, re-syncs
// after a run of disagreeing samples, coasts through short occlusions and
// falls back to unconditional re-acquisition after a long one.
package posefilter

import (
	"math"

	"github.com/shakedasido/AutoLink/internal/config"
	"github.com/shakedasido/AutoLink/internal/marker"
	"github.com/shakedasido/AutoLink/internal/monitoring"
)

var logf = monitoring.Tagged("posefilter")

// State is the filter's tracking sub-state.
type State string

const (
	StateReacquiring State = "reacquiring" // No trusted lock; next sighting is accepted unconditionally
	StateLocked      State = "locked"      // Last sample accepted
	StateRejecting   State = "rejecting"   // One or more consecutive samples failed the gate
	StateCoasting    State = "coasting"    // Marker missing, last pose still trusted
)

// Config holds the filter thresholds.
type Config struct {
	TargetID           int     // Marker id to track; negative tracks any id
	PositionGate       float64 // Max |dx| and |dz| against the last accepted pose
	AngleGateDeg       float64 // Max |dAngle| against the last accepted pose
	ResyncAfterRejects int     // Accept unconditionally once rejects exceed this
	MissGraceCycles    int     // Empty frames tolerated before dropping the lock
	RejectRange        float64 // Internal range while the distance must not be acted on
	SentinelRange      float64 // Reported range (and z) when the pose is invalid
}

// DefaultConfig returns the built-in filter thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyDockingConfig())
}

// ConfigFromTuning builds a Config from a loaded DockingConfig.
func ConfigFromTuning(cfg *config.DockingConfig) Config {
	return Config{
		TargetID:           cfg.GetTargetMarkerID(),
		PositionGate:       cfg.GetPositionGate(),
		AngleGateDeg:       cfg.GetAngleGateDeg(),
		ResyncAfterRejects: cfg.GetResyncAfterRejects(),
		MissGraceCycles:    cfg.GetMissGraceCycles(),
		RejectRange:        cfg.GetRejectRange(),
		SentinelRange:      cfg.GetSentinelRange(),
	}
}

// TrackedPose is the snapshot the filter reports each cycle.
//
// When Valid is false, X and Angle are 0 and Range and Z read SentinelRange,
// whatever the filter holds internally.
type TrackedPose struct {
	X     float64 `json:"x"`
	Z     float64 `json:"z"`
	Angle float64 `json:"angle"` // degrees
	Range float64 `json:"range"`
	Valid bool    `json:"valid"`

	Acquired           bool  `json:"acquired"`
	ConsecutiveRejects int   `json:"consecutive_rejects"`
	ConsecutiveMisses  int   `json:"consecutive_misses"`
	State              State `json:"state"`
}

// Filter is the stateful pose tracker. It is owned by a single control loop
// and is not safe for concurrent use.
type Filter struct {
	cfg Config

	// last accepted pose; survives rejects, misses and loss of lock
	x, z, angle float64
	rng         float64

	valid    bool
	acquired bool
	rejects  int
	misses   int
	state    State
}

// NewFilter constructs a filter in the re-acquiring state.
func NewFilter(cfg Config) *Filter {
	f := &Filter{cfg: cfg}
	f.Reset()
	return f
}

// Reset drops all tracking state.
func (f *Filter) Reset() {
	f.x, f.z, f.angle = 0, 0, 0
	f.rng = f.cfg.SentinelRange
	f.valid = false
	f.acquired = false
	f.rejects = 0
	f.misses = 0
	f.state = StateReacquiring
}

// Update ingests one frame's samples and returns the resulting snapshot.
func (f *Filter) Update(samples []marker.Sample) TrackedPose {
	prev := f.state
	if cand, ok := marker.Select(samples, f.cfg.TargetID); ok {
		f.observe(cand)
	} else {
		f.miss()
	}
	if f.state != prev {
		logf("%s -> %s (rejects=%d misses=%d)", prev, f.state, f.rejects, f.misses)
	}
	return f.Snapshot()
}

func (f *Filter) observe(cand marker.Sample) {
	x, z, angle := cand.X(), cand.Z(), cand.Heading()

	consistent := math.Abs(x-f.x) < f.cfg.PositionGate &&
		math.Abs(z-f.z) < f.cfg.PositionGate &&
		math.Abs(angle-f.angle) < f.cfg.AngleGateDeg

	if !consistent && f.acquired && f.rejects <= f.cfg.ResyncAfterRejects {
		f.rejects++
		f.rng = f.cfg.RejectRange
		f.valid = false
		f.state = StateRejecting
		return
	}

	f.x, f.z, f.angle = x, z, angle
	f.rng = cand.Distance()
	f.valid = true
	f.acquired = true
	f.rejects = 0
	f.misses = 0
	f.state = StateLocked
}

func (f *Filter) miss() {
	f.rejects = 0
	f.misses++

	switch {
	case f.misses > f.cfg.MissGraceCycles:
		f.misses = 0
		f.acquired = false
		f.valid = false
		f.state = StateReacquiring
	case f.acquired:
		// coast on the last accepted pose, but never act on its distance
		f.valid = true
		f.rng = f.cfg.RejectRange
		f.state = StateCoasting
	default:
		f.valid = false
		f.state = StateReacquiring
	}
}

// Snapshot returns the current reported pose without consuming a frame.
func (f *Filter) Snapshot() TrackedPose {
	p := TrackedPose{
		Valid:              f.valid,
		Acquired:           f.acquired,
		ConsecutiveRejects: f.rejects,
		ConsecutiveMisses:  f.misses,
		State:              f.state,
	}
	if !f.valid {
		p.Z = f.cfg.SentinelRange
		p.Range = f.cfg.SentinelRange
		return p
	}
	p.X, p.Z, p.Angle, p.Range = f.x, f.z, f.angle, f.rng
	return p
}

// Range returns the filter's internal range, including the reject sentinel
// that Snapshot hides behind SentinelRange on invalid cycles.
func (f *Filter) Range() float64 {
	return f.rng
}
