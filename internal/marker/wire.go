package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedFrame is returned when a detector payload cannot be decoded.
var ErrMalformedFrame = errors.New("malformed marker frame")

// wireFrame is the JSON document the detector emits once per camera frame.
type wireFrame struct {
	T       float64      `json:"t"` // unix seconds, optional
	Markers []wireMarker `json:"markers"`
}

type wireMarker struct {
	ID      int          `json:"id"`
	Corners [][2]float64 `json:"corners"`
	Rvec    []float64    `json:"rvec"`
	Tvec    []float64    `json:"tvec"`
}

// DecodeFrame parses one detector payload. When the payload carries no
// timestamp, received is used as the frame time.
func DecodeFrame(data []byte, received time.Time) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	frame := Frame{Time: received}
	if wf.T > 0 {
		sec, frac := math.Modf(wf.T)
		frame.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	frame.Samples = make([]Sample, 0, len(wf.Markers))
	for i, wm := range wf.Markers {
		if len(wm.Rvec) != 3 || len(wm.Tvec) != 3 {
			return Frame{}, fmt.Errorf("%w: marker %d: rvec/tvec must have 3 components", ErrMalformedFrame, i)
		}
		if len(wm.Corners) != 0 && len(wm.Corners) != 4 {
			return Frame{}, fmt.Errorf("%w: marker %d: expected 4 corners, got %d", ErrMalformedFrame, i, len(wm.Corners))
		}
		s := Sample{ID: wm.ID}
		copy(s.Corners[:], wm.Corners)
		copy(s.Rvec[:], wm.Rvec)
		copy(s.Tvec[:], wm.Tvec)
		frame.Samples = append(frame.Samples, s)
	}
	return frame, nil
}

// EncodeFrame renders a frame in the detector wire format.
func EncodeFrame(f Frame) ([]byte, error) {
	wf := wireFrame{Markers: make([]wireMarker, 0, len(f.Samples))}
	if !f.Time.IsZero() {
		wf.T = float64(f.Time.UnixNano()) / 1e9
	}
	for _, s := range f.Samples {
		wf.Markers = append(wf.Markers, wireMarker{
			ID:      s.ID,
			Corners: s.Corners[:],
			Rvec:    s.Rvec[:],
			Tvec:    s.Tvec[:],
		})
	}
	return json.Marshal(wf)
}
