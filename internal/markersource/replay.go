package markersource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shakedasido/AutoLink/internal/marker"
)

// maxReplayLine caps one JSONL record.
const maxReplayLine = 1 << 20

// ReplaySource reads frames from a JSONL capture, one detector frame per
// line. With Paced set, Next waits out the gap between recorded frame times.
type ReplaySource struct {
	closer io.Closer
	scan   *bufio.Scanner
	line   int

	Paced   bool
	prev    time.Time
	Dropped int
}

// OpenReplay opens a .jsonl capture file.
func OpenReplay(path string) (*ReplaySource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".jsonl" && ext != ".ndjson" {
		return nil, fmt.Errorf("replay file must have .jsonl extension: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	r := NewReplaySource(f)
	r.closer = f
	return r, nil
}

// NewReplaySource reads frames from r.
func NewReplaySource(r io.Reader) *ReplaySource {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	return &ReplaySource{scan: scan}
}

// Next returns the next frame, or ErrExhausted at the end of the capture.
// Malformed lines are skipped.
func (r *ReplaySource) Next(ctx context.Context) (marker.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return marker.Frame{}, err
		}
		if !r.scan.Scan() {
			if err := r.scan.Err(); err != nil {
				return marker.Frame{}, fmt.Errorf("%w: line %d: %v", ErrSourceUnavailable, r.line+1, err)
			}
			return marker.Frame{}, ErrExhausted
		}
		r.line++
		raw := bytes.TrimSpace(r.scan.Bytes())
		if len(raw) == 0 {
			continue
		}
		frame, err := marker.DecodeFrame(raw, time.Now())
		if err != nil {
			r.Dropped++
			logf("replay line %d: %v", r.line, err)
			continue
		}
		if err := r.pace(ctx, frame.Time); err != nil {
			return marker.Frame{}, err
		}
		return frame, nil
	}
}

func (r *ReplaySource) pace(ctx context.Context, t time.Time) error {
	defer func() { r.prev = t }()
	if !r.Paced || r.prev.IsZero() {
		return nil
	}
	gap := t.Sub(r.prev)
	if gap <= 0 {
		return nil
	}
	timer := time.NewTimer(gap)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close closes the underlying file, if any.
func (r *ReplaySource) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Recorder tees every frame from a Source into a JSONL capture that
// ReplaySource can play back.
type Recorder struct {
	Source

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewRecorder records frames from src into w. If w is an io.Closer it is
// closed with the recorder.
func NewRecorder(src Source, w io.Writer) *Recorder {
	rec := &Recorder{Source: src, w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		rec.closer = c
	}
	return rec
}

func (r *Recorder) Next(ctx context.Context) (marker.Frame, error) {
	frame, err := r.Source.Next(ctx)
	if err != nil {
		return frame, err
	}
	data, err := marker.EncodeFrame(frame)
	if err != nil {
		return frame, fmt.Errorf("encode frame for recording: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Write(data)
	if err := r.w.WriteByte('\n'); err != nil {
		logf("recording write failed: %v", err)
	}
	return frame, nil
}

// Close flushes the capture and closes both the capture and the source.
func (r *Recorder) Close() error {
	r.mu.Lock()
	err := r.w.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	r.mu.Unlock()
	return errors.Join(err, r.Source.Close())
}
