package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidTrainID(t *testing.T) {
	cases := map[string]bool{
		"G001": true,
		"R042": true,
		"G1":   false,
		"g001": false,
		"G0001": false,
		"":     false,
		"X001": false,
	}
	for id, want := range cases {
		assert.Equal(t, want, ValidTrainID(id), "id %q", id)
	}
}

func TestTrainMovementHistoryAndStationaryCheck(t *testing.T) {
	start := BlockKey{Line: "Green", ID: 1}
	tr := NewTrain("G001", "Green", start)

	base := NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.False(t, tr.IsStationaryTooLong(base, 120))

	tr.MarkStationaryTick(base)
	assert.False(t, tr.IsStationaryTooLong(base.Add(60*time.Second), 120))
	assert.True(t, tr.IsStationaryTooLong(base.Add(121*time.Second), 120))

	next := BlockKey{Line: "Green", ID: 13}
	tr.UpdateMovementHistory(next, base.Add(130*time.Second))
	assert.Equal(t, next, tr.CurrentBlockKey())
	// moving resets the stationary clock
	assert.False(t, tr.IsStationaryTooLong(base.Add(131*time.Second), 120))
}

func TestTrainActiveAndRouteAssignment(t *testing.T) {
	tr := NewTrain("G001", "Green", BlockKey{Line: "Green", ID: 1})
	assert.False(t, tr.Active())
	tr.SetActive(true)
	assert.True(t, tr.Active())

	tr.SetRouteID("R0001")
	assert.Equal(t, "R0001", tr.GetRouteID())

	tr.SetAuthoritySpeed(1, 3)
	assert.Equal(t, 1, tr.Authority)
	assert.Equal(t, 3, tr.SuggestedSpeed)

	next := BlockKey{Line: "Green", ID: 13}
	tr.SetNextBlock(&next)
	assert.Equal(t, &next, tr.NextBlock)
}
