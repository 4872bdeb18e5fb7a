package controller

import (
	"time"

	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/docking"
	"github.com/shakedasido/AutoLink/internal/geometry"
	"github.com/shakedasido/AutoLink/internal/monitor"
	"github.com/shakedasido/AutoLink/internal/posefilter"
)

// The journal and trace store are observers: their failures are logged and
// never interrupt the attempt.

func (c *Controller) startAttempt(id, kind string, started time.Time) {
	if c.traces != nil {
		c.trace = c.traces.Start(id, kind)
	}
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordSessionStart(id, kind, started); err != nil {
		logf("journal %s start: %v", id, err)
	}
}

func (c *Controller) journalTransition(id string, tr docking.Transition) {
	if c.journal == nil || id == "" {
		return
	}
	rec := db.TransitionRecord{From: tr.From, To: tr.To, At: tr.At, Reason: tr.Reason}
	if err := c.journal.RecordTransition(id, rec); err != nil {
		logf("journal %s transition: %v", id, err)
	}
}

func (c *Controller) finishAttempt(id, kind, status, reason string, ended time.Time) {
	if ended.IsZero() {
		ended = c.clock.Now()
	}

	var tracePath string
	if c.traces != nil && c.trace != nil {
		path, err := c.traces.Finish(c.trace)
		if err != nil {
			logf("trace %s: %v", id, err)
		}
		tracePath = path
	}
	c.trace = nil

	res := &Result{ID: id, Kind: kind, Status: status, Reason: reason, Cycles: c.attemptCycles, EndedAt: ended}
	logf("%s %s finished: %s %s", kind, id, status, reason)
	c.mu.Lock()
	c.status.LastResult = res
	c.mu.Unlock()

	if c.journal == nil {
		return
	}
	if err := c.journal.RecordSessionEnd(id, ended, status, reason, c.attemptCycles, tracePath); err != nil {
		logf("journal %s end: %v", id, err)
	}
}

func (c *Controller) recordSample(pose posefilter.TrackedPose, geo geometry.DockingGeometry, phase string) {
	if c.trace == nil {
		return
	}
	c.trace.Record(monitor.Sample{
		Cycle:    c.attemptCycles,
		At:       c.clock.Now(),
		Pose:     pose,
		Geometry: geo,
		Command:  c.last,
		Sent:     c.sent,
		Phase:    phase,
	})
}
