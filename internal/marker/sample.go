package marker

import (
	"math"
	"time"
)

// Sample is one detected marker in one camera frame.
type Sample struct {
	ID      int           `json:"id"`
	Corners [4][2]float64 `json:"corners"`
	Rvec    [3]float64    `json:"rvec"` // Rodrigues rotation vector
	Tvec    [3]float64    `json:"tvec"` // translation, camera frame: x right, y down, z forward
}

// Frame is everything the detector reported for a single camera frame.
// An empty Samples slice means no marker was visible.
type Frame struct {
	Time    time.Time
	Samples []Sample
}

// X returns the lateral offset of the marker from the camera axis.
func (s Sample) X() float64 { return s.Tvec[0] }

// Y returns the vertical offset of the marker.
func (s Sample) Y() float64 { return s.Tvec[1] }

// Z returns the forward distance of the marker along the camera axis.
func (s Sample) Z() float64 { return s.Tvec[2] }

// Distance returns the Euclidean distance from the camera to the marker.
func (s Sample) Distance() float64 {
	return math.Sqrt(s.Tvec[0]*s.Tvec[0] + s.Tvec[1]*s.Tvec[1] + s.Tvec[2]*s.Tvec[2])
}

// Heading returns the marker's rotation about the camera's vertical axis in
// degrees. See HeadingDegrees.
func (s Sample) Heading() float64 {
	return HeadingDegrees(s.Rvec)
}

// Select returns the first sample whose id matches targetID, or any sample
// when targetID is negative.
func Select(samples []Sample, targetID int) (Sample, bool) {
	for _, s := range samples {
		if targetID < 0 || s.ID == targetID {
			return s, true
		}
	}
	return Sample{}, false
}
