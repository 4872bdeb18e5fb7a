package marker

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deg(d float64) float64 { return d * math.Pi / 180 }

func TestHeadingDegrees(t *testing.T) {
	tests := []struct {
		name string
		rvec [3]float64
		want float64
	}{
		{"identity", [3]float64{0, 0, 0}, 0},
		{"yaw +30", [3]float64{0, deg(30), 0}, 30},
		{"yaw -45", [3]float64{0, deg(-45), 0}, -45},
		{"pure roll", [3]float64{0, 0, deg(60)}, 0},
		{"pure pitch", [3]float64{deg(50), 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HeadingDegrees(tt.rvec), 1e-9)
		})
	}
}

func TestRotationMatrixIsOrthonormal(t *testing.T) {
	m := RotationMatrix([3]float64{0.3, -1.2, 0.7})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += m[k][i] * m[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-12, "columns %d,%d", i, j)
		}
	}
}

func TestSelect(t *testing.T) {
	samples := []Sample{{ID: 3}, {ID: 7}, {ID: 7, Tvec: [3]float64{1, 2, 3}}}

	s, ok := Select(samples, 7)
	require.True(t, ok)
	assert.Equal(t, 7, s.ID)
	assert.Equal(t, 0.0, s.Z(), "first matching sample wins")

	s, ok = Select(samples, -1)
	require.True(t, ok)
	assert.Equal(t, 3, s.ID)

	_, ok = Select(samples, 9)
	assert.False(t, ok)

	_, ok = Select(nil, -1)
	assert.False(t, ok)
}

func TestSampleAccessors(t *testing.T) {
	s := Sample{Tvec: [3]float64{3, 4, 12}}
	assert.Equal(t, 3.0, s.X())
	assert.Equal(t, 4.0, s.Y())
	assert.Equal(t, 12.0, s.Z())
	assert.InDelta(t, 13.0, s.Distance(), 1e-12)
}

func TestDecodeFrame(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	payload := `{"t": 1750719826.5, "markers": [
		{"id": 4, "corners": [[1,2],[3,4],[5,6],[7,8]], "rvec": [0.1, 0.2, 0.3], "tvec": [1.5, -2, 40]}
	]}`
	f, err := DecodeFrame([]byte(payload), received)
	require.NoError(t, err)
	require.Len(t, f.Samples, 1)
	assert.Equal(t, time.Unix(1750719826, 500000000).UTC(), f.Time)
	s := f.Samples[0]
	assert.Equal(t, 4, s.ID)
	assert.Equal(t, [2]float64{5, 6}, s.Corners[2])
	assert.Equal(t, [3]float64{1.5, -2, 40}, s.Tvec)

	f, err = DecodeFrame([]byte(`{"markers": []}`), received)
	require.NoError(t, err)
	assert.Empty(t, f.Samples)
	assert.Equal(t, received, f.Time, "missing timestamp falls back to receive time")
}

func TestDecodeFrameErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":      `{"markers": [`,
		"short tvec":    `{"markers": [{"id": 1, "rvec": [0,0,0], "tvec": [1,2]}]}`,
		"short rvec":    `{"markers": [{"id": 1, "rvec": [0], "tvec": [1,2,3]}]}`,
		"three corners": `{"markers": [{"id": 1, "corners": [[0,0],[1,1],[2,2]], "rvec": [0,0,0], "tvec": [1,2,3]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(payload), time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame))
		})
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	in := Frame{
		Time: time.Date(2026, 3, 1, 12, 0, 0, 250000000, time.UTC),
		Samples: []Sample{{
			ID:   2,
			Rvec: [3]float64{0, 0.5, 0},
			Tvec: [3]float64{-3, 1, 55},
		}},
	}
	data, err := EncodeFrame(in)
	require.NoError(t, err)

	out, err := DecodeFrame(data, time.Time{})
	require.NoError(t, err)
	require.Len(t, out.Samples, 1)
	assert.Equal(t, in.Samples[0], out.Samples[0])
	assert.WithinDuration(t, in.Time, out.Time, time.Microsecond)
}
