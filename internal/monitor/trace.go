// Package monitor records per-cycle traces of docking attempts and renders
// them as debug charts. It observes the control loop and never feeds back
// into it.
package monitor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/geometry"
	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/posefilter"
	"github.com/shakedasido/AutoLink/internal/security"
)

var logf = monitoring.Tagged("monitor")

// DefaultMaxSamples caps a single trace. At 30 frames/s this is a little over
// eleven minutes of driving.
const DefaultMaxSamples = 20000

// Sample is one control cycle as seen by the loop.
type Sample struct {
	Cycle    int                      `json:"cycle"`
	At       time.Time                `json:"at"`
	Pose     posefilter.TrackedPose   `json:"pose"`
	Geometry geometry.DockingGeometry `json:"geometry"`
	Command  driver.Command           `json:"command"`
	Sent     bool                     `json:"sent"`
	Phase    string                   `json:"phase"`
}

// Trace is the recorded history of one session or disconnect.
type Trace struct {
	ID   string
	Kind string

	mu      sync.Mutex
	samples []Sample
	max     int
	dropped int
}

// NewTrace starts an empty trace. max <= 0 uses DefaultMaxSamples.
func NewTrace(id, kind string, max int) *Trace {
	if max <= 0 {
		max = DefaultMaxSamples
	}
	return &Trace{ID: id, Kind: kind, max: max}
}

// Record appends s. Samples past the cap are counted and discarded.
func (t *Trace) Record(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) >= t.max {
		t.dropped++
		return
	}
	t.samples = append(t.samples, s)
}

// Samples returns a copy of the recorded samples.
func (t *Trace) Samples() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sample(nil), t.samples...)
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Dropped is the number of samples discarded after the cap was reached.
func (t *Trace) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Summary condenses a trace for logs and the status API.
type Summary struct {
	Cycles      int     `json:"cycles"`
	ValidCycles int     `json:"valid_cycles"`
	SentCycles  int     `json:"sent_cycles"`
	Duration    float64 `json:"duration_s"`

	MeanRange       float64 `json:"mean_range"`
	StdRange        float64 `json:"std_range"`
	MinRange        float64 `json:"min_range"`
	MeanAbsAngle    float64 `json:"mean_abs_angle"`
	MaxHeadingError float64 `json:"max_heading_error"`
	MeanLeftDuty    float64 `json:"mean_left_duty"`
	MeanRightDuty   float64 `json:"mean_right_duty"`
}

// Summarize computes statistics over valid cycles. Invalid cycles carry the
// sentinel range and are counted but excluded from the pose statistics.
func Summarize(samples []Sample) Summary {
	sum := Summary{Cycles: len(samples)}
	if len(samples) == 0 {
		return sum
	}
	sum.Duration = samples[len(samples)-1].At.Sub(samples[0].At).Seconds()

	var ranges, angles, headingErrs []float64
	left := make([]float64, 0, len(samples))
	right := make([]float64, 0, len(samples))
	for _, s := range samples {
		left = append(left, s.Command.LeftDuty)
		right = append(right, s.Command.RightDuty)
		if s.Sent {
			sum.SentCycles++
		}
		if !s.Pose.Valid {
			continue
		}
		sum.ValidCycles++
		angles = append(angles, math.Abs(s.Pose.Angle))
		headingErrs = append(headingErrs, s.Geometry.HeadingError)
		// coasting cycles are valid but carry the reject range
		if s.Pose.State != posefilter.StateCoasting {
			ranges = append(ranges, s.Pose.Range)
		}
	}

	sum.MeanLeftDuty = stat.Mean(left, nil)
	sum.MeanRightDuty = stat.Mean(right, nil)
	if len(ranges) > 0 {
		sum.MeanRange, sum.StdRange = stat.MeanStdDev(ranges, nil)
		if len(ranges) == 1 {
			sum.StdRange = 0
		}
		sum.MinRange = floats.Min(ranges)
	}
	if len(angles) > 0 {
		sum.MeanAbsAngle = stat.Mean(angles, nil)
		sum.MaxHeadingError = floats.Max(headingErrs)
	}
	return sum
}

// Store keeps the active trace and a short history of finished ones for the
// debug routes, and exports finished traces as PNG when a directory is set.
type Store struct {
	dir  string
	keep int

	mu       sync.Mutex
	active   *Trace
	finished []*Trace
}

// NewStore creates a Store. An empty dir disables PNG export.
func NewStore(dir string, keep int) *Store {
	if keep <= 0 {
		keep = 8
	}
	return &Store{dir: dir, keep: keep}
}

// Start begins a new active trace, replacing any previous one.
func (s *Store) Start(id, kind string) *Trace {
	t := NewTrace(id, kind, 0)
	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
	return t
}

// Finish moves t into the history and writes its PNG. The returned path is
// empty when export is disabled.
func (s *Store) Finish(t *Trace) (string, error) {
	if t == nil {
		return "", nil
	}
	s.mu.Lock()
	if s.active == t {
		s.active = nil
	}
	s.finished = append(s.finished, t)
	if len(s.finished) > s.keep {
		s.finished = s.finished[len(s.finished)-s.keep:]
	}
	s.mu.Unlock()

	sum := Summarize(t.Samples())
	logf("%s %s: %d cycles (%d valid), %.1fs, min range %.1f", t.Kind, t.ID, sum.Cycles, sum.ValidCycles, sum.Duration, sum.MinRange)

	if s.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create trace dir: %w", err)
	}
	name := security.SanitizeFilename(t.Kind) + "_" + security.SanitizeFilename(t.ID) + ".png"
	path := filepath.Join(s.dir, name)
	if err := security.ContainPath(path, s.dir); err != nil {
		return "", err
	}
	if err := SavePNG(t, path); err != nil {
		return "", err
	}
	return path, nil
}

// Lookup finds a trace by id among the active and finished traces. An empty
// id returns the active trace, or the most recently finished one.
func (s *Store) Lookup(id string) (*Trace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		if s.active != nil {
			return s.active, true
		}
		if n := len(s.finished); n > 0 {
			return s.finished[n-1], true
		}
		return nil, false
	}
	if s.active != nil && s.active.ID == id {
		return s.active, true
	}
	for i := len(s.finished) - 1; i >= 0; i-- {
		if s.finished[i].ID == id {
			return s.finished[i], true
		}
	}
	return nil, false
}

// IDs lists the known traces, newest first.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.finished)+1)
	if s.active != nil {
		ids = append(ids, s.active.ID)
	}
	for i := len(s.finished) - 1; i >= 0; i-- {
		ids = append(ids, s.finished[i].ID)
	}
	return ids
}
