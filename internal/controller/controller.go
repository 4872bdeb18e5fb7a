// Package controller runs the control loop: it pulls marker frames, tracks
// the pose, publishes docking readiness, and drives docking sessions and
// disconnects through the motor driver.
//
// Everything that mutates tracking or session state happens on the goroutine
// that calls Run. Other goroutines talk to it through Dock, Stop, Disconnect
// and Drive, which are served at cycle boundaries, and read it through
// Status.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

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

var logf = monitoring.Tagged("controller")

// Mode is what the loop is doing with the frames it receives.
type Mode string

const (
	ModeIdle          Mode = "idle"          // Tracking and publishing readiness
	ModeDocking       Mode = "docking"       // A session owns the wheels
	ModeDocked        Mode = "docked"        // Latched; manual driving only
	ModeDisconnecting Mode = "disconnecting" // Release sequence running
)

const (
	promptReady    = "ready to connect"
	promptNotReady = "no permission to connect, adjust the wheelchair position"
)

var (
	ErrNotReady   = errors.New("target not in a feasible docking position")
	ErrBusy       = errors.New("a docking or disconnect sequence is already running")
	ErrNotDocked  = errors.New("not docked")
	ErrNotRunning = errors.New("control loop not running")
)

// Journal receives session lifecycle events. *db.DB implements it.
type Journal interface {
	RecordSessionStart(id, kind string, started time.Time) error
	RecordTransition(sessionID string, tr db.TransitionRecord) error
	RecordSessionEnd(id string, ended time.Time, status, reason string, cycles int, tracePath string) error
}

// Options configures a Controller. Zero values for Clock, Journal and Traces
// are valid.
type Options struct {
	Filter   posefilter.Config
	Geometry geometry.Config
	Docking  docking.Config

	// AutoDock begins a session as soon as the target is feasible, and
	// again with a fresh session after an abort.
	AutoDock bool

	Clock   timeutil.Clock
	Journal Journal
	Traces  *monitor.Store
}

// Result is the outcome of the most recent attempt.
type Result struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	Cycles  int       `json:"cycles"`
	EndedAt time.Time `json:"ended_at"`
}

// Status is the snapshot published after every cycle.
type Status struct {
	Mode     Mode                     `json:"mode"`
	Ready    bool                     `json:"ready"`
	Prompt   string                   `json:"prompt"`
	AutoDock bool                     `json:"auto_dock"`
	Pose     posefilter.TrackedPose   `json:"pose"`
	Geometry geometry.DockingGeometry `json:"geometry"`

	AttemptID string         `json:"attempt_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Command   driver.Command `json:"command"`

	Cycles     int       `json:"cycles"`
	LastFrame  time.Time `json:"last_frame"`
	Running    bool      `json:"running"`
	LastResult *Result   `json:"last_result,omitempty"`
}

type requestKind int

const (
	reqDock requestKind = iota
	reqStop
	reqDisconnect
	reqDrive
)

type request struct {
	kind   requestKind
	reason string
	cmd    driver.Command
	reply  chan error
}

// Controller is the docking control loop.
type Controller struct {
	src     markersource.Source
	drv     driver.Driver
	clock   timeutil.Clock
	journal Journal
	traces  *monitor.Store

	filter   *posefilter.Filter
	engine   geometry.Engine
	dockCfg  docking.Config
	autoDock bool

	requests chan request

	mu     sync.Mutex
	status Status

	// owned by Run
	mode          Mode
	ready         bool
	session       *docking.Session
	release       *docking.Disconnect
	trace         *monitor.Trace
	attemptCycles int
	cycles        int
	last          driver.Command
	sent          bool // last step emitted a new command rather than holding
}

// New creates a controller. The source and driver are owned by the caller.
func New(src markersource.Source, drv driver.Driver, opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Controller{
		src:      src,
		drv:      drv,
		clock:    clock,
		journal:  opts.Journal,
		traces:   opts.Traces,
		filter:   posefilter.NewFilter(opts.Filter),
		engine:   geometry.NewEngine(opts.Geometry),
		dockCfg:  opts.Docking,
		autoDock: opts.AutoDock,
		requests: make(chan request),
		mode:     ModeIdle,
		last:     driver.Stop(),
	}
	c.status = Status{Mode: ModeIdle, Prompt: promptNotReady, AutoDock: opts.AutoDock}
	return c
}

// Status returns the latest published snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	if st.LastResult != nil {
		r := *st.LastResult
		st.LastResult = &r
	}
	return st
}

// Dock begins a docking session. The target must currently be feasible.
func (c *Controller) Dock(ctx context.Context) error {
	return c.submit(ctx, request{kind: reqDock})
}

// Stop is the emergency stop. It cancels a running session or disconnect,
// and otherwise stops the wheels.
func (c *Controller) Stop(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "emergency stop"
	}
	return c.submit(ctx, request{kind: reqStop, reason: reason})
}

// Disconnect starts the release sequence from the docked state.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.submit(ctx, request{kind: reqDisconnect})
}

// Drive applies a manual command while docked.
func (c *Controller) Drive(ctx context.Context, cmd driver.Command) error {
	return c.submit(ctx, request{kind: reqDrive, cmd: cmd})
}

func (c *Controller) submit(ctx context.Context, req request) error {
	c.mu.Lock()
	running := c.status.Running
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req.reply = make(chan error, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is cancelled or the source fails. The
// wheels are stopped on the way out. A cancelled ctx returns nil; a source
// failure is returned wrapped.
func (c *Controller) Run(ctx context.Context) error {
	c.setRunning(true)
	defer c.setRunning(false)

	frames := make(chan frameResult)
	want := make(chan struct{}, 1)
	want <- struct{}{}
	go c.pump(ctx, want, frames)

	for {
		select {
		case <-ctx.Done():
			c.shutdown("shutdown")
			return nil
		case req := <-c.requests:
			err := c.handle(ctx, req)
			c.publishState()
			req.reply <- err
		case fr := <-frames:
			if fr.err != nil {
				if ctx.Err() != nil {
					c.shutdown("shutdown")
					return nil
				}
				c.shutdown(fr.err.Error())
				return fmt.Errorf("acquire frame: %w", fr.err)
			}
			c.cycle(ctx, fr.frame)
			want <- struct{}{}
		}
	}
}

type frameResult struct {
	frame marker.Frame
	err   error
}

// pump reads the source on its own goroutine so requests are served while a
// read is blocked. It reads only when the loop asks for the next frame, so
// the source never runs ahead of the cycle being processed, and it stops
// after the first error.
func (c *Controller) pump(ctx context.Context, want <-chan struct{}, out chan<- frameResult) {
	for {
		select {
		case <-want:
		case <-ctx.Done():
			return
		}
		f, err := c.src.Next(ctx)
		select {
		case out <- frameResult{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Controller) setRunning(v bool) {
	c.mu.Lock()
	c.status.Running = v
	c.mu.Unlock()
}

// cycle is one control step.
func (c *Controller) cycle(ctx context.Context, frame marker.Frame) {
	c.cycles++
	pose := c.filter.Update(frame.Samples)
	geo := c.engine.Evaluate(pose)

	switch c.mode {
	case ModeIdle:
		c.updateReadiness(pose, geo)
		if c.ready && c.autoDock {
			c.beginSession("auto")
			c.stepSession(ctx, pose, geo)
		}

	case ModeDocking:
		c.stepSession(ctx, pose, geo)

	case ModeDisconnecting:
		c.stepDisconnect(ctx)

	case ModeDocked:
		// manual driving owns the wheels
	}

	c.publish(pose, geo, frame.Time)
}

func (c *Controller) updateReadiness(pose posefilter.TrackedPose, geo geometry.DockingGeometry) {
	ready := pose.Valid && pose.State != posefilter.StateCoasting && geo.Feasible
	if ready == c.ready {
		return
	}
	c.ready = ready
	if ready {
		logf("%s (range %.1f, angle %.1f)", promptReady, pose.Range, pose.Angle)
	} else {
		logf("%s", promptNotReady)
	}
}

func (c *Controller) handle(ctx context.Context, req request) error {
	switch req.kind {
	case reqDock:
		switch c.mode {
		case ModeDocking, ModeDisconnecting:
			return ErrBusy
		case ModeDocked:
			return fmt.Errorf("%w: already docked", ErrBusy)
		}
		if !c.ready {
			return ErrNotReady
		}
		c.beginSession("requested")
		return nil

	case reqStop:
		switch c.mode {
		case ModeDocking:
			c.applyOutput(ctx, c.session.Cancel(req.reason))
			c.endSession()
		case ModeDisconnecting:
			c.applyOutput(ctx, c.release.Cancel(req.reason))
			c.endDisconnect()
		default:
			logf("stop (%s) in %s", req.reason, c.mode)
			if err := c.drv.Stop(ctx); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			c.last = driver.Stop()
		}
		return nil

	case reqDisconnect:
		if c.mode != ModeDocked {
			return ErrNotDocked
		}
		c.beginDisconnect()
		return nil

	case reqDrive:
		if c.mode != ModeDocked {
			return ErrNotDocked
		}
		cmd := req.cmd.Clamp()
		if err := c.drv.Apply(ctx, cmd); err != nil {
			return fmt.Errorf("drive: %w", err)
		}
		c.last = cmd
		return nil
	}
	return fmt.Errorf("unknown request %d", req.kind)
}

func (c *Controller) beginSession(why string) {
	c.session = docking.Begin(c.dockCfg, c.clock)
	c.mode = ModeDocking
	c.attemptCycles = 0
	c.last = driver.Stop()
	logf("docking session %s started (%s)", c.session.ID, why)
	c.startAttempt(c.session.ID, db.KindDock, c.session.StartedAt)
}

func (c *Controller) stepSession(ctx context.Context, pose posefilter.TrackedPose, geo geometry.DockingGeometry) {
	c.attemptCycles++
	out := c.session.Step(pose, geo)
	if err := c.applyOutput(ctx, out); err != nil {
		logf("session %s: %v", c.session.ID, err)
		c.applyOutput(ctx, c.session.Cancel(err.Error()))
	}
	c.recordSample(pose, geo, string(c.session.Phase))
	if c.session.Status() != docking.StatusRunning {
		c.endSession()
	}
}

func (c *Controller) endSession() {
	s := c.session
	c.finishAttempt(s.ID, db.KindDock, string(s.Status()), s.AbortReason, s.EndedAt)
	c.session = nil
	if s.Status() == docking.StatusComplete {
		c.mode = ModeDocked
		logf("connected, waiting for disconnect")
		return
	}
	c.mode = ModeIdle
	c.ready = false
}

func (c *Controller) beginDisconnect() {
	c.release = docking.BeginDisconnect(c.dockCfg, c.clock)
	c.mode = ModeDisconnecting
	c.attemptCycles = 0
	logf("disconnecting (%s)", c.release.ID)
	c.startAttempt(c.release.ID, db.KindDisconnect, c.release.StartedAt)
}

func (c *Controller) stepDisconnect(ctx context.Context) {
	c.attemptCycles++
	out := c.release.Step()
	if err := c.applyOutput(ctx, out); err != nil {
		logf("disconnect %s: %v", c.release.ID, err)
		c.applyOutput(ctx, c.release.Cancel(err.Error()))
	}
	c.recordSample(c.filter.Snapshot(), geometry.DockingGeometry{}, c.release.Stage)
	if c.release.Status != docking.StatusRunning {
		c.endDisconnect()
	}
}

func (c *Controller) endDisconnect() {
	d := c.release
	reason := ""
	if d.Status == docking.StatusAborted {
		reason = "cancelled"
	}
	c.finishAttempt(d.ID, db.KindDisconnect, string(d.Status), reason, d.EndedAt)
	c.release = nil
	c.mode = ModeIdle
	c.ready = false
	// the frame has moved; do not trust the old lock
	c.filter.Reset()
}

// applyOutput journals any transition and sends the step's command. While
// the attempt is running and the step holds, the last command is sent again
// so the board watchdog stays fed.
func (c *Controller) applyOutput(ctx context.Context, out docking.Output) error {
	if out.Transition != nil {
		c.journalTransition(c.attemptID(), *out.Transition)
	}
	c.sent = out.Send
	cmd := out.Command
	switch {
	case out.Send:
	case out.Status == docking.StatusRunning:
		cmd = c.last
	default:
		return nil
	}
	if err := c.drv.Apply(ctx, cmd); err != nil {
		if out.Status != docking.StatusRunning {
			logf("final command %s failed: %v", cmd, err)
			return nil
		}
		return fmt.Errorf("driver: %w", err)
	}
	c.last = cmd
	return nil
}

func (c *Controller) attemptID() string {
	switch {
	case c.session != nil:
		return c.session.ID
	case c.release != nil:
		return c.release.ID
	}
	return ""
}

// shutdown ends any running attempt and stops the wheels. It runs with a
// fresh context since the loop's own is usually already cancelled.
func (c *Controller) shutdown(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	switch c.mode {
	case ModeDocking:
		c.applyOutput(ctx, c.session.Cancel(reason))
		c.endSession()
	case ModeDisconnecting:
		c.applyOutput(ctx, c.release.Cancel(reason))
		c.endDisconnect()
	}
	if err := c.drv.Stop(ctx); err != nil {
		logf("stop on %s: %v", reason, err)
	}
	c.last = driver.Stop()
	c.publishState()
}

func (c *Controller) publish(pose posefilter.TrackedPose, geo geometry.DockingGeometry, frameTime time.Time) {
	c.mu.Lock()
	c.status.Pose = pose
	c.status.Geometry = geo
	c.status.LastFrame = frameTime
	c.mu.Unlock()
	c.publishState()
}

// publishState refreshes the loop-owned fields of the snapshot.
func (c *Controller) publishState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := &c.status
	st.Mode = c.mode
	st.Ready = c.ready
	st.Prompt = promptNotReady
	if c.ready {
		st.Prompt = promptReady
	}
	st.Command = c.last
	st.Cycles = c.cycles
	st.AttemptID, st.Phase = "", ""
	switch {
	case c.session != nil:
		st.AttemptID, st.Phase = c.session.ID, string(c.session.Phase)
	case c.release != nil:
		st.AttemptID, st.Phase = c.release.ID, c.release.Stage
	}
}
