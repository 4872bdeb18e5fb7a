package serialmux

import (
	"errors"
	"fmt"
	"strings"
)

// StopLine is the drive line with every output off.
const StopLine = "M 0 0 0 0 0 0 0"

const (
	LineTypeAck       = "ack"
	LineTypeError     = "error"
	LineTypeTelemetry = "telemetry"
	LineTypeUnknown   = "unknown"
)

// ErrBoardRejected is wrapped by ParseReply when the board answers ERR.
var ErrBoardRejected = errors.New("motor board rejected command")

// ClassifyLine inspects a line from the board and returns a type token.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK":
		return LineTypeAck
	case line == "ERR" || strings.HasPrefix(line, "ERR "):
		return LineTypeError
	case strings.HasPrefix(line, "T "):
		return LineTypeTelemetry
	}
	return LineTypeUnknown
}

// ParseReply converts an ack or error line into the command's result.
// Lines of any other type are not replies and yield ok == false.
func ParseReply(line string) (ok bool, err error) {
	switch ClassifyLine(line) {
	case LineTypeAck:
		return true, nil
	case LineTypeError:
		msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "ERR"))
		if msg == "" {
			return true, ErrBoardRejected
		}
		return true, fmt.Errorf("%w: %s", ErrBoardRejected, msg)
	}
	return false, nil
}

// ParseTelemetry splits a "T key=value ..." line into its fields. Tokens
// without '=' are ignored.
func ParseTelemetry(line string) map[string]string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 || fields[0] != "T" {
		return nil
	}
	out := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
