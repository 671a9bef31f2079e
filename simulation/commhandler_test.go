package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatchedCTC(t *testing.T) (*CTCSystem, *CommunicationHandler) {
	t.Helper()
	ctc, _ := newTestCTC(t)
	comm := NewCommunicationHandler(ctc)
	seq := []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}}
	_, err := ctc.DispatchTrainFromYard("G001", "Green", seq[0], seq[2], seq, NewTime(time.Now()))
	require.NoError(t, err)
	return ctc, comm
}

// TestCommHandlerAuthoritySpeedParity checks that
// CalculateAuthorityAndSpeed returns the authority and speed that the
// train's active route gives at its current position, the same numbers
// the per-tick frames are built from.
func TestCommHandlerAuthoritySpeedParity(t *testing.T) {
	ctc, comm := dispatchedCTC(t)

	authority, speed, err := comm.CalculateAuthorityAndSpeed("G001")
	require.NoError(t, err)
	assert.Equal(t, 1, authority)
	assert.Equal(t, 3, speed)

	route := ctc.RouteManager.Route(ctc.Train("G001").GetRouteID())
	wantAuthority, wantSpeed := route.CalculateAuthoritySpeed(ctc.TrackModel)
	idx := route.CurrentBlockIndex()
	assert.Equal(t, wantAuthority[idx], authority)
	assert.Equal(t, wantSpeed[idx], speed)
}

func TestCommHandlerAuthoritySpeedUnknownTrain(t *testing.T) {
	_, comm := dispatchedCTC(t)
	_, _, err := comm.CalculateAuthorityAndSpeed("G999")
	require.Error(t, err)
}

// TestCommHandlerUnauthorizedFilter checks that a controller registered
// for a subset of blocks on a line may only report occupancy for blocks
// within its own coverage; reports outside that
// coverage are dropped before reaching the CTC.
func TestCommHandlerUnauthorizedFilter(t *testing.T) {
	ctc, tm := newTestCTC(t)
	tm.AddBlock(NewBlock(BlockKey{Line: "Green", ID: 5}, 10, 60))
	tm.AddBlock(NewBlock(BlockKey{Line: "Green", ID: 6}, 10, 60))
	comm := NewCommunicationHandler(ctc)

	wc, err := NewWaysideController("Green", tm)
	require.NoError(t, err)
	comm.ProvideWaysideController("Green", wc, []BlockKey{{Line: "Green", ID: 5}, {Line: "Green", ID: 6}})

	// Reports for owned blocks are forwarded...
	err = comm.UpdateOccupiedBlocks("Green", []OccupancyUpdate{{Line: "Green", Block: 5, Occupied: true}}, NewTime(time.Now()))
	require.NoError(t, err)
	assert.True(t, tm.Block(BlockKey{Line: "Green", ID: 5}).Occupied())

	// ...but a report for block 1, which this controller does not cover,
	// must not reach the CTC even though block 1 exists on the same line,
	// and the call itself must report failure.
	err = comm.UpdateOccupiedBlocks("Green", []OccupancyUpdate{{Line: "Green", Block: 1, Occupied: true}}, NewTime(time.Now()))
	require.Error(t, err)
	assert.False(t, tm.Block(BlockKey{Line: "Green", ID: 1}).Occupied(), "unauthorized entry must never reach the block registry")
}

func TestCommHandlerSendTrainCommandsRoutesToController(t *testing.T) {
	ctc, comm := dispatchedCTC(t)
	wc, err := NewWaysideController("Green", ctc.TrackModel)
	require.NoError(t, err)
	comm.ProvideWaysideController("Green", wc, []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}})

	frames := comm.SendTrainCommands(NewTime(time.Now()))
	require.Len(t, frames, 1)
	assert.Equal(t, "Green", frames[0].Line)

	wc.mu.RLock()
	got := wc.lastCommand
	wc.mu.RUnlock()
	assert.Equal(t, frames[0].Line, got.Line)
}
