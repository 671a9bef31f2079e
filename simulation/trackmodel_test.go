package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLinearTrackModel wires up a simple three-block chain on "Green":
// 1 -> 13 -> 14.
func buildLinearTrackModel(t *testing.T) *TrackModel {
	t.Helper()
	tm := NewTrackModel()
	b1 := NewBlock(BlockKey{Line: "Green", ID: 1}, 7.7, 41.58)
	b13 := NewBlock(BlockKey{Line: "Green", ID: 13}, 7.7, 41.58)
	b14 := NewBlock(BlockKey{Line: "Green", ID: 14}, 7.7, 41.58)
	tm.AddBlock(b1)
	tm.AddBlock(b13)
	tm.AddBlock(b14)
	tm.Link(b1.Key, b13.Key)
	tm.Link(b13.Key, b14.Key)
	return tm
}

func TestTrackModelAdjacencyAndLookup(t *testing.T) {
	tm := buildLinearTrackModel(t)

	assert.True(t, tm.Adjacent(BlockKey{Line: "Green", ID: 1}, BlockKey{Line: "Green", ID: 13}))
	assert.False(t, tm.Adjacent(BlockKey{Line: "Green", ID: 13}, BlockKey{Line: "Green", ID: 1}))
	assert.False(t, tm.Adjacent(BlockKey{Line: "Green", ID: 1}, BlockKey{Line: "Green", ID: 14}))

	assert.Equal(t, 3, tm.TotalBlocks("Green"))
	assert.Equal(t, 0, tm.TotalBlocks("Red"))
	assert.Equal(t, []int{1, 13, 14}, tm.BlockIDsForLine("Green"))

	assert.Nil(t, tm.Block(BlockKey{Line: "Green", ID: 999}))
	require.NotNil(t, tm.Block(BlockKey{Line: "Green", ID: 1}))
}

// TestTrackModelValidateSequence checks that every consecutive pair in
// an accepted route sequence must be graph-adjacent on the same line.
func TestTrackModelValidateSequence(t *testing.T) {
	tm := buildLinearTrackModel(t)

	require.NoError(t, tm.ValidateSequence([]BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}}))
	require.NoError(t, tm.ValidateSequence([]BlockKey{{Line: "Green", ID: 1}}))

	err := tm.ValidateSequence([]BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 14}})
	require.Error(t, err)

	err = tm.ValidateSequence([]BlockKey{{Line: "Green", ID: 1}, {Line: "Red", ID: 1}})
	require.Error(t, err)
}
