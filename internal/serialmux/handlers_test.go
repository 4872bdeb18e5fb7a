package serialmux

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shakedasido/AutoLink/internal/monitoring"
)

func TestTelemetry_HandleLine(t *testing.T) {
	var logged []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, args ...interface{}) {
		logged = append(logged, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	var tel Telemetry
	t0 := time.Unix(1700000000, 0)

	if vals, at := tel.Snapshot(); len(vals) != 0 || !at.IsZero() {
		t.Fatalf("expected empty snapshot, got %v at %v", vals, at)
	}

	tel.HandleLine("T batt=24.1 latch=0", t0)
	tel.HandleLine("OK", t0.Add(time.Second))
	tel.HandleLine("T latch=1", t0.Add(2*time.Second))

	vals, at := tel.Snapshot()
	want := map[string]string{"batt": "24.1", "latch": "1"}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if !at.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("updated = %v, want %v", at, t0.Add(2*time.Second))
	}

	// snapshot is a copy
	vals["batt"] = "0"
	if again, _ := tel.Snapshot(); again["batt"] != "24.1" {
		t.Error("snapshot aliases internal state")
	}

	if len(logged) != 0 {
		t.Errorf("telemetry and acks should not log, got %v", logged)
	}
	tel.HandleLine("ERR stalled", t0)
	tel.HandleLine("garbage", t0)
	if len(logged) != 2 {
		t.Errorf("expected 2 log lines, got %d", len(logged))
	}
}
