package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shakedasido/AutoLink/internal/monitoring"
	"github.com/shakedasido/AutoLink/internal/serialmux"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

var logf = monitoring.Tagged("driver")

var (
	// ErrNoReply is returned when the board does not answer within the
	// acknowledgement timeout.
	ErrNoReply = errors.New("no reply from motor board")
	// ErrClosed is returned by Apply after Close or after the mux has shut
	// the reply stream.
	ErrClosed = errors.New("driver closed")
)

// DefaultAckTimeout bounds the wait for the board's OK/ERR.
const DefaultAckTimeout = 250 * time.Millisecond

// SerialDriver writes commands to the motor board through a serial mux and
// waits for each one to be acknowledged. Telemetry lines seen while waiting
// are folded into Telemetry.
type SerialDriver struct {
	mux        serialmux.SerialMuxInterface
	clock      timeutil.Clock
	ackTimeout time.Duration

	mu      sync.Mutex // serialises request/reply pairs
	subID   string
	replies chan string
	last    Command
	closed  bool

	Telemetry serialmux.Telemetry
}

// NewSerialDriver subscribes to mux for replies. ackTimeout <= 0 uses
// DefaultAckTimeout. The caller still owns mux and must run its Monitor.
func NewSerialDriver(mux serialmux.SerialMuxInterface, clock timeutil.Clock, ackTimeout time.Duration) *SerialDriver {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, ch := mux.Subscribe()
	return &SerialDriver{
		mux:        mux,
		clock:      clock,
		ackTimeout: ackTimeout,
		subID:      id,
		replies:    ch,
	}
}

// Apply sends cmd (clamped) and blocks until the board acknowledges it, the
// timeout passes or ctx is done.
func (d *SerialDriver) Apply(ctx context.Context, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	cmd = cmd.Clamp()
	d.drain()
	line := cmd.Line()
	if err := d.mux.SendCommand(line); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	if err := d.awaitReply(ctx); err != nil {
		return fmt.Errorf("command %q: %w", line, err)
	}
	if cmd != d.last {
		logf("applied %s", line)
	}
	d.last = cmd
	return nil
}

// Stop applies the full-stop command.
func (d *SerialDriver) Stop(ctx context.Context) error {
	return d.Apply(ctx, Stop())
}

// Last returns the most recently acknowledged command.
func (d *SerialDriver) Last() Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Close unsubscribes from the mux. It does not close the mux.
func (d *SerialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.mux.Unsubscribe(d.subID)
	return nil
}

// drain discards stale lines left over from earlier commands, keeping any
// telemetry they carry.
func (d *SerialDriver) drain() {
	for {
		select {
		case line, ok := <-d.replies:
			if !ok {
				return
			}
			d.Telemetry.HandleLine(line, d.clock.Now())
		default:
			return
		}
	}
}

func (d *SerialDriver) awaitReply(ctx context.Context) error {
	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrNoReply
		case line, ok := <-d.replies:
			if !ok {
				return ErrClosed
			}
			if isReply, err := serialmux.ParseReply(line); isReply {
				return err
			}
			d.Telemetry.HandleLine(line, d.clock.Now())
		}
	}
}
