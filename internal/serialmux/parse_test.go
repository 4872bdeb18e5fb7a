package serialmux

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"OK", LineTypeAck},
		{" OK ", LineTypeAck},
		{"OKAY", LineTypeUnknown},
		{"ERR", LineTypeError},
		{"ERR duty out of range", LineTypeError},
		{"ERROR", LineTypeUnknown},
		{"T batt=24.1 latch=1", LineTypeTelemetry},
		{"boot v1.2", LineTypeUnknown},
		{"", LineTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestParseReply(t *testing.T) {
	ok, err := ParseReply("OK")
	if !ok || err != nil {
		t.Errorf("OK: got (%v, %v)", ok, err)
	}

	ok, err = ParseReply("ERR duty out of range")
	if !ok || !errors.Is(err, ErrBoardRejected) {
		t.Errorf("ERR: got (%v, %v)", ok, err)
	}
	if err != nil && err.Error() != "motor board rejected command: duty out of range" {
		t.Errorf("unexpected message %q", err.Error())
	}

	ok, err = ParseReply("ERR")
	if !ok || !errors.Is(err, ErrBoardRejected) {
		t.Errorf("bare ERR: got (%v, %v)", ok, err)
	}

	ok, err = ParseReply("T batt=24")
	if ok || err != nil {
		t.Errorf("telemetry is not a reply: got (%v, %v)", ok, err)
	}
}

func TestParseTelemetry(t *testing.T) {
	got := ParseTelemetry("T batt=24.1 latch=1 junk =x arm=up")
	want := map[string]string{"batt": "24.1", "latch": "1", "arm": "up"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseTelemetry mismatch (-want +got):\n%s", diff)
	}

	if got := ParseTelemetry("OK"); got != nil {
		t.Errorf("expected nil for non-telemetry, got %v", got)
	}
}
