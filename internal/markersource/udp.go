package markersource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shakedasido/AutoLink/internal/marker"
	"github.com/shakedasido/AutoLink/internal/timeutil"
)

// pollInterval bounds each blocking read so cancellation is noticed.
const pollInterval = 100 * time.Millisecond

// maxDatagram is larger than any frame the detector sends.
const maxDatagram = 64 * 1024

// UDPSource receives one JSON frame per datagram from the detector.
type UDPSource struct {
	sock    UDPSocket
	timeout time.Duration
	clock   timeutil.Clock
	buf     []byte

	Dropped int // malformed datagrams skipped
}

// ListenUDP binds addr and returns a source that gives up when no valid
// frame arrives within timeout.
func ListenUDP(addr string, timeout time.Duration) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	logf("listening for detector frames on %s", conn.LocalAddr())
	return NewUDPSource(conn, timeout, nil), nil
}

// NewUDPSource wraps an open socket. A nil clock uses the real clock.
func NewUDPSource(sock UDPSocket, timeout time.Duration, clock timeutil.Clock) *UDPSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UDPSource{
		sock:    sock,
		timeout: timeout,
		clock:   clock,
		buf:     make([]byte, maxDatagram),
	}
}

// Next returns the next well-formed frame. Malformed datagrams are skipped
// and do not extend the timeout.
func (u *UDPSource) Next(ctx context.Context) (marker.Frame, error) {
	giveUp := u.clock.Now().Add(u.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return marker.Frame{}, err
		}
		now := u.clock.Now()
		if !now.Before(giveUp) {
			return marker.Frame{}, fmt.Errorf("%w: no frame within %s", ErrSourceUnavailable, u.timeout)
		}

		wait := min(pollInterval, giveUp.Sub(now))
		if err := u.sock.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return marker.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		n, _, err := u.sock.ReadFromUDP(u.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return marker.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}

		frame, err := marker.DecodeFrame(u.buf[:n], u.clock.Now())
		if err != nil {
			u.Dropped++
			logf("dropping datagram: %v", err)
			continue
		}
		return frame, nil
	}
}

// Close closes the socket.
func (u *UDPSource) Close() error {
	return u.sock.Close()
}
