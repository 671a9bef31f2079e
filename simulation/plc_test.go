package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseGreenInput() PLCInput {
	auth := make(map[int]int)
	speed := make(map[int]int)
	for i := 1; i <= 150; i++ {
		auth[i] = 1
		speed[i] = 3
	}
	return PLCInput{
		Occupancy:      make(map[int]bool),
		CTCAuthority:   auth,
		CTCSpeed:       speed,
		SwitchPosition: make(map[int]int),
	}
}

// TestGreenLinePLCTrailingHazard checks the Green line trailing-4 rule:
// an occupied block zeros authority/speed on the four blocks immediately
// ahead of it within its section.
func TestGreenLinePLCTrailingHazard(t *testing.T) {
	plc := NewGreenLinePLC()
	in := baseGreenInput()
	in.Occupancy[50] = true

	out := plc.Run(in)
	for b := 51; b <= 54; b++ {
		assert.Equal(t, 0, out.Authority[b], "block %d should be held by the trailing hazard", b)
		assert.Equal(t, 0, out.SuggestedSpeed[b], "block %d should be held by the trailing hazard", b)
	}
	assert.Equal(t, 1, out.Authority[55], "block outside the 4-block trail must be untouched")
	assert.Equal(t, 3, out.SuggestedSpeed[55])
}

// TestGreenLineJunctionStateMachine exercises the four section-N states
// (idle, InN, InN-exit, InOPQ) and checks both switches plus the M/Q
// hazard ranges they drive.
func TestGreenLineJunctionStateMachine(t *testing.T) {
	plc := NewGreenLinePLC()

	t.Run("S0 idle selects both through legs, no hazard", func(t *testing.T) {
		in := baseGreenInput()
		out := plc.Run(in)
		assert.Equal(t, 0, out.SwitchPosition[76])
		assert.Equal(t, 0, out.SwitchPosition[85])
		assert.Equal(t, 1, out.Authority[75], "M approach untouched while idle")
		assert.Equal(t, 1, out.Authority[99], "Q approach untouched while idle")
	})

	t.Run("S1 InN diverts switch 76 into N and hazards M only", func(t *testing.T) {
		in := baseGreenInput()
		in.Occupancy[80] = true  // inside section N
		in.Occupancy[100] = true // block 100 still occupied, so no exit yet
		out := plc.Run(in)
		assert.Equal(t, 1, out.SwitchPosition[76])
		assert.Equal(t, 0, out.SwitchPosition[85])
		assert.Equal(t, 0, out.Authority[75], "M approach hazarded")
		assert.Equal(t, 1, out.Authority[99], "Q approach not hazarded in S1")
	})

	t.Run("S2 InN-exit diverts both switches and hazards M and Q", func(t *testing.T) {
		in := baseGreenInput()
		in.Occupancy[80] = true // inside section N, block 100 clear
		out := plc.Run(in)
		assert.Equal(t, 1, out.SwitchPosition[76])
		assert.Equal(t, 1, out.SwitchPosition[85])
		assert.Equal(t, 0, out.Authority[75], "M approach hazarded")
		assert.Equal(t, 0, out.Authority[99], "Q approach hazarded")
	})

	t.Run("S3 InOPQ diverts both switches and hazards M only", func(t *testing.T) {
		in := baseGreenInput()
		in.Occupancy[90] = true // inside the O-P-Q approach
		out := plc.Run(in)
		assert.Equal(t, 1, out.SwitchPosition[76])
		assert.Equal(t, 1, out.SwitchPosition[85])
		assert.Equal(t, 0, out.Authority[75], "M approach hazarded")
		assert.Equal(t, 1, out.Authority[99], "Q approach not hazarded in S3")
	})
}

// TestGreenLineCrossingWindow checks that the block-19 crossing is down
// while any block in {16..19} is occupied.
func TestGreenLineCrossingWindow(t *testing.T) {
	plc := NewGreenLinePLC()

	in := baseGreenInput()
	out := plc.Run(in)
	assert.False(t, out.CrossingActive[19])
	assert.Equal(t, "proceed", out.TrafficLight[19])

	in.Occupancy[17] = true
	out = plc.Run(in)
	assert.True(t, out.CrossingActive[19])
	assert.Equal(t, "stop", out.TrafficLight[19])
}

func baseRedInput() PLCInput {
	auth := make(map[int]int)
	speed := make(map[int]int)
	for i := 1; i <= 80; i++ {
		auth[i] = 1
		speed[i] = 3
	}
	return PLCInput{
		Occupancy:      make(map[int]bool),
		CTCAuthority:   auth,
		CTCSpeed:       speed,
		SwitchPosition: make(map[int]int),
	}
}

// TestRedLinePLCDirectionAwareHazard checks the Red line's
// direction-aware hazard sweep through section H (60-72).
func TestRedLinePLCDirectionAwareHazard(t *testing.T) {
	t.Run("up-through-H sweeps ahead of the occupied block", func(t *testing.T) {
		plc := NewRedLinePLC()
		in := baseRedInput()
		in.Occupancy[72] = true // signals up_through_H
		in.Occupancy[65] = true

		out := plc.Run(in)
		for b := 66; b <= 69; b++ {
			assert.Equal(t, 0, out.Authority[b], "block %d should be held ahead of the occupied block", b)
		}
	})

	t.Run("not up-through-H sweeps behind the occupied block", func(t *testing.T) {
		plc := NewRedLinePLC()
		in := baseRedInput()
		in.Occupancy[65] = true // 72 clear, so direction flag is false

		out := plc.Run(in)
		for b := 61; b <= 64; b++ {
			assert.Equal(t, 0, out.Authority[b], "block %d should be held behind the occupied block", b)
		}
	})
}

// TestRedLineCrossingWindow checks that the block-47 crossing's window is
// wider than Green's, spanning {44..50}.
func TestRedLineCrossingWindow(t *testing.T) {
	plc := NewRedLinePLC()

	in := baseRedInput()
	in.Occupancy[49] = true
	out := plc.Run(in)
	assert.True(t, out.CrossingActive[47])
	assert.Equal(t, "stop", out.TrafficLight[47])

	in2 := baseRedInput()
	out2 := plc.Run(in2)
	assert.False(t, out2.CrossingActive[47])
}

func TestPLCRegistryHasOneProgramPerLine(t *testing.T) {
	assert.Equal(t, "Green", PLCRegistry["Green"].Line())
	assert.Equal(t, "Red", PLCRegistry["Red"].Line())
}
