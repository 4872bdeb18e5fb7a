// Package markersource delivers detector frames to the control loop: live
// from UDP datagrams, or replayed from a JSONL capture or a pcap file.
package markersource

import (
	"context"
	"errors"

	"github.com/shakedasido/AutoLink/internal/marker"
	"github.com/shakedasido/AutoLink/internal/monitoring"
)

var logf = monitoring.Tagged("markersource")

var (
	// ErrSourceUnavailable means no frame could be acquired. It ends the
	// current attempt.
	ErrSourceUnavailable = errors.New("marker source unavailable")
	// ErrExhausted is returned by replay sources after the last frame.
	ErrExhausted = errors.New("marker source exhausted")
)

// Source yields one frame per call. Next blocks until a frame arrives, ctx
// is done, or the source gives up.
type Source interface {
	Next(ctx context.Context) (marker.Frame, error)
	Close() error
}
