package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockOperationalInvariant(t *testing.T) {
	now := NewTime(time.Now())
	b := NewBlock(BlockKey{Line: "Green", ID: 1}, 10, 60)
	assert.True(t, b.Operational())

	b.SetFailed(true, "track circuit fault", now)
	assert.False(t, b.Operational())
	assert.Equal(t, "track circuit fault", b.FailureReason())

	b.SetFailed(false, "", now)
	assert.True(t, b.Operational())

	b.SetMaintenance(true, now)
	assert.False(t, b.Operational())
	b.SetMaintenance(false, now)

	b.SetOpen(false, now)
	assert.False(t, b.Operational())
	b.SetOpen(true, now)
	assert.True(t, b.Operational())
}

// TestBlockSafeAuthority checks that safe authority is 1 iff
// open && !failed && !occupied && !maintenance.
func TestBlockSafeAuthority(t *testing.T) {
	now := NewTime(time.Now())
	b := NewBlock(BlockKey{Line: "Green", ID: 1}, 10, 60)
	assert.Equal(t, 1, b.CalculateSafeAuthority())

	b.UpdateOccupation(true, now)
	assert.Equal(t, 0, b.CalculateSafeAuthority())
	b.UpdateOccupation(false, now)

	b.SetFailed(true, "signal loss", now)
	assert.Equal(t, 0, b.CalculateSafeAuthority())
	b.SetFailed(false, "", now)

	b.SetMaintenance(true, now)
	assert.Equal(t, 0, b.CalculateSafeAuthority())
	b.SetMaintenance(false, now)

	b.SetOpen(false, now)
	assert.Equal(t, 0, b.CalculateSafeAuthority())
}

// TestBlockSpeedDominance checks that safe authority 0 implies suggested
// speed 0 regardless of what lies ahead.
func TestBlockSpeedDominance(t *testing.T) {
	now := NewTime(time.Now())
	b := NewBlock(BlockKey{Line: "Green", ID: 1}, 10, 60)
	next1 := NewBlock(BlockKey{Line: "Green", ID: 2}, 10, 60)
	next2 := NewBlock(BlockKey{Line: "Green", ID: 3}, 10, 60)

	b.UpdateOccupation(true, now)
	assert.Equal(t, 0, b.CalculateSuggestedSpeed(next1, next2))
	assert.Equal(t, 0, b.CalculateSuggestedSpeed(nil, nil))
}

// TestBlockSuggestedSpeedLookahead walks through the full speed/lookahead
// lattice: {0 stop, 1 one-third, 2 two-thirds, 3 full}.
func TestBlockSuggestedSpeedLookahead(t *testing.T) {
	now := NewTime(time.Now())
	b := NewBlock(BlockKey{Line: "Green", ID: 1}, 10, 60)
	next1 := NewBlock(BlockKey{Line: "Green", ID: 2}, 10, 60)
	next2 := NewBlock(BlockKey{Line: "Green", ID: 3}, 10, 60)

	t.Run("no lookahead at all is worst case", func(t *testing.T) {
		assert.Equal(t, 1, b.CalculateSuggestedSpeed(nil, nil))
	})
	t.Run("next1 occupied caps at one-third", func(t *testing.T) {
		next1.UpdateOccupation(true, now)
		assert.Equal(t, 1, b.CalculateSuggestedSpeed(next1, next2))
		next1.UpdateOccupation(false, now)
	})
	t.Run("next1 not operational caps at one-third", func(t *testing.T) {
		next1.SetFailed(true, "x", now)
		assert.Equal(t, 1, b.CalculateSuggestedSpeed(next1, next2))
		next1.SetFailed(false, "", now)
	})
	t.Run("next2 absent caps at two-thirds", func(t *testing.T) {
		assert.Equal(t, 2, b.CalculateSuggestedSpeed(next1, nil))
	})
	t.Run("next2 occupied caps at two-thirds", func(t *testing.T) {
		next2.UpdateOccupation(true, now)
		assert.Equal(t, 2, b.CalculateSuggestedSpeed(next1, next2))
		next2.UpdateOccupation(false, now)
	})
	t.Run("clear path both ahead gives full speed", func(t *testing.T) {
		assert.Equal(t, 3, b.CalculateSuggestedSpeed(next1, next2))
	})
}

type fakeCloseSafetyChecker struct {
	offenders []string
}

func (f *fakeCloseSafetyChecker) TrainsRoutedThrough(key BlockKey) []string {
	return f.offenders
}

// TestBlockCanCloseSafely checks that close fails iff an active train has
// a route crossing the block.
func TestBlockCanCloseSafely(t *testing.T) {
	b := NewBlock(BlockKey{Line: "Green", ID: 5}, 10, 60)

	clear := &fakeCloseSafetyChecker{}
	require.NoError(t, b.CanCloseSafely(clear))

	blocked := &fakeCloseSafetyChecker{offenders: []string{"G001", "G002"}}
	err := b.CanCloseSafely(blocked)
	require.Error(t, err)
	var failure *CloseSafetyFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{"G001", "G002"}, failure.OffendingTrains)
}

func TestBlockSnapshot(t *testing.T) {
	now := NewTime(time.Now())
	b := NewBlock(BlockKey{Line: "Red", ID: 9}, 20, 80)
	b.UpdateOccupation(true, now)
	snap := b.Snapshot()
	assert.True(t, snap.Occupied)
	assert.True(t, snap.Operational)
	assert.Equal(t, 0, snap.Authority)
	assert.Equal(t, "Red:9", b.ID())
}
