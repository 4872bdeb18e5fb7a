package driver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shakedasido/AutoLink/internal/serialmux"
)

func TestCommandClamp(t *testing.T) {
	c := Command{LeftDuty: 140, RightDuty: -3}.Clamp()
	assert.Equal(t, 100.0, c.LeftDuty)
	assert.Equal(t, 0.0, c.RightDuty)

	c = Command{LeftDuty: math.NaN(), RightDuty: 42.5}.Clamp()
	assert.Equal(t, 0.0, c.LeftDuty)
	assert.Equal(t, 42.5, c.RightDuty)
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"stop", Stop(), "M 0 0 0 0 0 0 0"},
		{"forward", Forward(25), "M 25 25 0 0 0 0 0"},
		{"reverse", Reverse(25), "M 25 25 1 1 0 0 0"},
		{"spin", Command{LeftDuty: 25, RightDuty: 25, LeftReverse: true}, "M 25 25 1 0 0 0 0"},
		{"arc rounds", Command{LeftDuty: 90, RightDuty: 71.6}, "M 90 72 0 0 0 0 0"},
		{"clamped", Command{LeftDuty: 250, RightDuty: -10}, "M 100 0 0 0 0 0 0"},
		{"arm up", Command{ArmUp: true}, "M 0 0 0 0 0 1 0"},
		{"arm down latch", Command{ArmDown: true, Latch: true}, "M 0 0 0 0 1 0 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Line())
		})
	}

	assert.Equal(t, serialmux.StopLine, Stop().Line())
}

func TestCommandIsStop(t *testing.T) {
	assert.True(t, Stop().IsStop())
	assert.True(t, Command{LeftDuty: -5}.IsStop())
	assert.False(t, Forward(1).IsStop())
	assert.False(t, Command{ArmUp: true}.IsStop())
	assert.True(t, Command{LeftReverse: true}.IsStop(), "direction alone drives nothing")
}
