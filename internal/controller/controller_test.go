package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/docking"
	"github.com/shakedasido/AutoLink/internal/driver"
	"github.com/shakedasido/AutoLink/internal/geometry"
	"github.com/shakedasido/AutoLink/internal/marker"
	"github.com/shakedasido/AutoLink/internal/markersource"
	"github.com/shakedasido/AutoLink/internal/monitor"
	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/posefilter"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const frameInterval = 100 * time.Millisecond

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// scriptedSource produces one frame per call from a function of the frame
// index, advancing the mock clock by one frame interval each time.
type scriptedSource struct {
	clock *timeutil.MockClock
	frame func(i int) ([]marker.Sample, error)
	pause time.Duration
	i     int
}

func (s *scriptedSource) Next(ctx context.Context) (marker.Frame, error) {
	if err := ctx.Err(); err != nil {
		return marker.Frame{}, err
	}
	if s.pause > 0 {
		time.Sleep(s.pause)
	}
	s.clock.Advance(frameInterval)
	samples, err := s.frame(s.i)
	s.i++
	return marker.Frame{Time: s.clock.Now(), Samples: samples}, err
}

func (s *scriptedSource) Close() error { return nil }

// chanSource hands out frames pushed by the test.
type chanSource struct {
	frames chan marker.Frame
}

func newChanSource() *chanSource { return &chanSource{frames: make(chan marker.Frame)} }

func (s *chanSource) Next(ctx context.Context) (marker.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return marker.Frame{}, markersource.ErrExhausted
		}
		return f, nil
	case <-ctx.Done():
		return marker.Frame{}, ctx.Err()
	}
}

func (s *chanSource) Close() error { return nil }

func ahead(z float64) []marker.Sample {
	return []marker.Sample{{ID: 7, Tvec: [3]float64{0, 0, z}}}
}

// approach closes in on a square target two units per frame and parks at 10.
func approach(i int) float64 {
	z := 100 - 2*float64(i)
	if z < 10 {
		return 10
	}
	return z
}

type endRecord struct {
	status, reason string
	cycles         int
}

type fakeJournal struct {
	mu          sync.Mutex
	started     []string
	kinds       map[string]string
	transitions map[string][]db.TransitionRecord
	ends        map[string]endRecord
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		kinds:       map[string]string{},
		transitions: map[string][]db.TransitionRecord{},
		ends:        map[string]endRecord{},
	}
}

func (j *fakeJournal) RecordSessionStart(id, kind string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, id)
	j.kinds[id] = kind
	return nil
}

func (j *fakeJournal) RecordTransition(id string, tr db.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions[id] = append(j.transitions[id], tr)
	return nil
}

func (j *fakeJournal) RecordSessionEnd(id string, _ time.Time, status, reason string, cycles int, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ends[id] = endRecord{status: status, reason: reason, cycles: cycles}
	return nil
}

func (j *fakeJournal) targets(id string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, tr := range j.transitions[id] {
		out = append(out, tr.To)
	}
	return out
}

func (j *fakeJournal) end(id string) (endRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.ends[id]
	return e, ok
}

func (j *fakeJournal) startedIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.started...)
}

func testOptions(clock timeutil.Clock) Options {
	filter := posefilter.DefaultConfig()
	filter.TargetID = -1
	return Options{
		Filter:   filter,
		Geometry: geometry.DefaultConfig(),
		Docking:  docking.DefaultConfig(),
		Clock:    clock,
	}
}

func containsCommand(cmds []driver.Command, want driver.Command) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

func TestAutoDockEndToEnd(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := &scriptedSource{clock: clock, frame: func(i int) ([]marker.Sample, error) {
		if i >= 200 {
			return nil, markersource.ErrExhausted
		}
		return ahead(approach(i)), nil
	}}
	drv := &driver.RecordingDriver{}
	journal := newFakeJournal()
	traces := monitor.NewStore("", 0)

	opts := testOptions(clock)
	opts.AutoDock = true
	opts.Journal = journal
	opts.Traces = traces
	c := New(src, drv, opts)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, markersource.ErrExhausted), "got %v", err)

	st := c.Status()
	assert.Equal(t, ModeDocked, st.Mode)
	assert.False(t, st.Running)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, "complete", st.LastResult.Status)
	assert.Equal(t, db.KindDock, st.LastResult.Kind)

	ids := journal.startedIDs()
	require.Len(t, ids, 1)
	id := ids[0]
	assert.Equal(t, []string{"align", "creep_in", "latch", "complete"}, journal.targets(id))
	end, ok := journal.end(id)
	require.True(t, ok)
	assert.Equal(t, "complete", end.status)
	assert.Greater(t, end.cycles, 50)

	cmds := drv.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, 90.0, cmds[0].LeftDuty, "approach starts at full speed on the outer wheel")
	assert.True(t, containsCommand(cmds, driver.Command{ArmUp: true}), "arm-up never sent")
	assert.True(t, drv.Last().IsStop())

	tr, ok := traces.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, end.cycles, tr.Len())
}

func TestStarvationAbortThenRetry(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := &scriptedSource{clock: clock, frame: func(i int) ([]marker.Sample, error) {
		switch {
		case i < 3:
			return ahead(100), nil
		case i < 21:
			return nil, nil
		case i < 26:
			return ahead(100), nil
		}
		return nil, markersource.ErrExhausted
	}}
	drv := &driver.RecordingDriver{}
	journal := newFakeJournal()

	opts := testOptions(clock)
	opts.AutoDock = true
	opts.Journal = journal
	opts.Docking.MaxMissedCycles = 5
	c := New(src, drv, opts)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, markersource.ErrExhausted)

	ids := journal.startedIDs()
	require.Len(t, ids, 2, "abort should be followed by a fresh session")
	assert.NotEqual(t, ids[0], ids[1])

	first, ok := journal.end(ids[0])
	require.True(t, ok)
	assert.Equal(t, "aborted", first.status)
	assert.Equal(t, "target lost for 5 cycles", first.reason)

	second, ok := journal.end(ids[1])
	require.True(t, ok)
	assert.Equal(t, "aborted", second.status)
	assert.Contains(t, second.reason, "exhausted")

	assert.Equal(t, ModeIdle, c.Status().Mode)
	assert.True(t, drv.Last().IsStop())
}

func TestSourceFailureStopsDriver(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := &scriptedSource{clock: clock, frame: func(i int) ([]marker.Sample, error) {
		if i == 0 {
			return ahead(100), nil
		}
		return nil, fmt.Errorf("%w: no datagram for 2s", markersource.ErrSourceUnavailable)
	}}
	drv := &driver.RecordingDriver{}
	opts := testOptions(clock)
	opts.AutoDock = true
	c := New(src, drv, opts)

	err := c.Run(context.Background())
	require.ErrorIs(t, err, markersource.ErrSourceUnavailable)

	st := c.Status()
	assert.Equal(t, ModeIdle, st.Mode)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, "aborted", st.LastResult.Status)
	assert.Contains(t, st.LastResult.Reason, "unavailable")
	assert.True(t, drv.Last().IsStop())
	assert.Greater(t, len(drv.Commands()), 1)
}

func startLoop(t *testing.T, c *Controller) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.Status().Running }, time.Second, time.Millisecond)
	t.Cleanup(cancel)
	return cancel, done
}

func TestManualDockAndEmergencyStop(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := newChanSource()
	drv := &driver.RecordingDriver{}
	journal := newFakeJournal()
	opts := testOptions(clock)
	opts.Journal = journal
	c := New(src, drv, opts)

	require.ErrorIs(t, c.Dock(context.Background()), ErrNotRunning)

	cancel, done := startLoop(t, c)
	ctx := context.Background()

	assert.ErrorIs(t, c.Dock(ctx), ErrNotReady)
	assert.ErrorIs(t, c.Disconnect(ctx), ErrNotDocked)
	assert.ErrorIs(t, c.Drive(ctx, driver.Forward(20)), ErrNotDocked)

	src.frames <- marker.Frame{Time: clock.Now(), Samples: ahead(100)}
	require.Eventually(t, func() bool { return c.Status().Ready }, time.Second, time.Millisecond)
	assert.Equal(t, "ready to connect", c.Status().Prompt)
	assert.Empty(t, drv.Commands(), "idle tracking must not drive")

	require.NoError(t, c.Dock(ctx))
	st := c.Status()
	assert.Equal(t, ModeDocking, st.Mode)
	assert.Equal(t, "approach", st.Phase)
	assert.NotEmpty(t, st.AttemptID)
	assert.ErrorIs(t, c.Dock(ctx), ErrBusy)

	src.frames <- marker.Frame{Time: clock.Now(), Samples: ahead(98)}
	require.Eventually(t, func() bool { return drv.Last().LeftDuty == 90 }, time.Second, time.Millisecond)

	require.NoError(t, c.Stop(ctx, ""))
	st = c.Status()
	assert.Equal(t, ModeIdle, st.Mode)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, "aborted", st.LastResult.Status)
	assert.Equal(t, "emergency stop", st.LastResult.Reason)
	assert.True(t, drv.Last().IsStop())

	end, ok := journal.end(st.LastResult.ID)
	require.True(t, ok)
	assert.Equal(t, "aborted", end.status)

	// stop while idle just stops the wheels
	require.NoError(t, c.Stop(ctx, "operator"))

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, c.Dock(ctx), ErrNotRunning)
}

func TestDriverFailureAbortsAttempt(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := newChanSource()
	drv := &driver.RecordingDriver{Err: errors.New("board rejected: boom")}
	c := New(src, drv, testOptions(clock))
	_, _ = startLoop(t, c)
	ctx := context.Background()

	src.frames <- marker.Frame{Time: clock.Now(), Samples: ahead(100)}
	require.Eventually(t, func() bool { return c.Status().Ready }, time.Second, time.Millisecond)
	require.NoError(t, c.Dock(ctx))

	src.frames <- marker.Frame{Time: clock.Now(), Samples: ahead(98)}
	require.Eventually(t, func() bool { return c.Status().LastResult != nil }, time.Second, time.Millisecond)

	st := c.Status()
	assert.Equal(t, ModeIdle, st.Mode)
	assert.Equal(t, "aborted", st.LastResult.Status)
	assert.Contains(t, st.LastResult.Reason, "boom")
}

func TestDockedDriveAndDisconnect(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	src := &scriptedSource{clock: clock, pause: time.Millisecond, frame: func(i int) ([]marker.Sample, error) {
		if i < 200 {
			return ahead(approach(i)), nil
		}
		return nil, nil
	}}
	drv := &driver.RecordingDriver{}
	journal := newFakeJournal()
	opts := testOptions(clock)
	opts.AutoDock = true
	opts.Journal = journal
	c := New(src, drv, opts)
	_, _ = startLoop(t, c)
	ctx := context.Background()

	require.Eventually(t, func() bool { return c.Status().Mode == ModeDocked }, 10*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Dock(ctx), ErrBusy)

	manual := driver.Command{LeftDuty: 30, RightDuty: 30}
	require.NoError(t, c.Drive(ctx, manual))
	assert.Equal(t, manual, drv.Last())

	require.NoError(t, c.Disconnect(ctx))
	require.Eventually(t, func() bool {
		st := c.Status()
		return st.Mode == ModeIdle && st.LastResult != nil && st.LastResult.Kind == db.KindDisconnect
	}, 10*time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, "complete", st.LastResult.Status)

	cmds := drv.Commands()
	assert.True(t, containsCommand(cmds, driver.Command{ArmDown: true}), "arm-down never sent")
	assert.True(t, containsCommand(cmds, driver.Reverse(25)), "reverse never sent")
	assert.True(t, drv.Last().IsStop())

	ids := journal.startedIDs()
	require.Len(t, ids, 2)
	assert.Equal(t, []string{"arm_down", "settle", "reverse", "stop", "complete"}, journal.targets(ids[1]))
}
