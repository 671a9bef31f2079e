package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandWordEncodeDecodeRoundTrip(t *testing.T) {
	w := EncodeCommandWord(1, 2, 77, true, 12)
	authority, speed, nextBlock, updatePrevious, nextStation := w.Decode()
	assert.Equal(t, 1, authority)
	assert.Equal(t, 2, speed)
	assert.Equal(t, 77, nextBlock)
	assert.True(t, updatePrevious)
	assert.Equal(t, 12, nextStation)

	w2 := EncodeCommandWord(0, 0, 0, false, 0)
	a2, s2, n2, u2, st2 := w2.Decode()
	assert.Equal(t, 0, a2)
	assert.Equal(t, 0, s2)
	assert.Equal(t, 0, n2)
	assert.False(t, u2)
	assert.Equal(t, 0, st2)
}

// TestCommandWordFieldWidths exercises the bit-exact layout:
// [authority:1][commandedSpeed:2][nextBlock:7][updatePrevious:1][nextStation:5].
func TestCommandWordFieldWidths(t *testing.T) {
	w := EncodeCommandWord(1, 3, 127, true, 31)
	assert.Equal(t, CommandWord(0xFFFF), w)

	authority, speed, nextBlock, updatePrevious, nextStation := w.Decode()
	assert.Equal(t, 1, authority)
	assert.Equal(t, 3, speed)
	assert.Equal(t, 127, nextBlock)
	assert.True(t, updatePrevious)
	assert.Equal(t, 31, nextStation)
}

type panickingPLC struct{}

func (panickingPLC) Line() string { return "Green" }
func (panickingPLC) Run(in PLCInput) PLCOutput {
	panic("simulated PLC crash")
}

// TestWaysideControllerIsolatesPLCFault checks that a panicking PLC
// surfaces as PLC_FAULT without taking down the wayside cycle.
func TestWaysideControllerIsolatesPLCFault(t *testing.T) {
	tm := buildLinearTrackModel(t)
	wc := &WaysideController{
		Line:           "Green",
		plc:            panickingPLC{},
		tm:             tm,
		switchPosition: make(map[int]int),
		trafficLight:   make(map[int]string),
		crossingActive: make(map[int]bool),
	}

	err := wc.UpdateCycle(NewTime(time.Now()))
	require.Error(t, err)
	faulted, reason := wc.Faulted()
	assert.True(t, faulted)
	assert.Contains(t, reason, "PLC_FAULT")
}

func TestWaysideControllerUpdateCycleHappyPath(t *testing.T) {
	tm := buildLinearTrackModel(t)
	ctc := NewCTCSystem(tm)
	comm := NewCommunicationHandler(ctc)

	wc, err := NewWaysideController("Green", tm)
	require.NoError(t, err)
	comm.ProvideWaysideController("Green", wc, []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}})

	frame := CommandFrame{
		Line:           "Green",
		SuggestedSpeed: []int{3, 2, 1},
		Authority:      []int{1, 1, 1},
		BlockNum:       []int{1, 13, 14},
	}
	wc.ReceiveCTCCommand(frame)

	err = wc.UpdateCycle(NewTime(time.Now()))
	require.NoError(t, err)
	faulted, _ := wc.Faulted()
	assert.False(t, faulted)
}
