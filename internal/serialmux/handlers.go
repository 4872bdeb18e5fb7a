package serialmux

import (
	"maps"
	"sync"
	"time"

	"github.com/shakedasido/AutoLink/internal/monitoring"
)

var logf = monitoring.Tagged("serialmux")

// Telemetry holds the latest values reported by the board on "T" lines
// (battery voltage, latch switch and the like).
type Telemetry struct {
	mu      sync.Mutex
	values  map[string]string
	updated time.Time
}

// HandleLine folds one board line into the telemetry state. Non-telemetry
// lines other than acks are logged.
func (t *Telemetry) HandleLine(line string, now time.Time) {
	switch ClassifyLine(line) {
	case LineTypeTelemetry:
		fields := ParseTelemetry(line)
		t.mu.Lock()
		if t.values == nil {
			t.values = make(map[string]string)
		}
		maps.Copy(t.values, fields)
		t.updated = now
		t.mu.Unlock()
	case LineTypeAck:
	case LineTypeError:
		logf("board error: %s", line)
	default:
		logf("unknown line from board: %q", line)
	}
}

// Snapshot returns a copy of the current values and when they last changed.
func (t *Telemetry) Snapshot() (map[string]string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.values), t.updated
}
