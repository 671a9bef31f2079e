package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCTC(t *testing.T) (*CTCSystem, *TrackModel) {
	t.Helper()
	tm := buildLinearTrackModel(t)
	return NewCTCSystem(tm), tm
}

// TestCTCValidateID checks that a train ID is valid iff it matches
// ^[GR]\d{3}$ and is not already registered.
func TestCTCValidateID(t *testing.T) {
	ctc, _ := newTestCTC(t)

	require.NoError(t, ctc.ValidateID("G001"))
	require.Error(t, ctc.ValidateID(""))
	require.Error(t, ctc.ValidateID("g001"))
	require.Error(t, ctc.ValidateID("G1"))

	ctc.AddTrain(NewTrain("G001", "Green", BlockKey{Line: "Green", ID: 1}))
	require.Error(t, ctc.ValidateID("G001"), "duplicate id must be rejected")
}

// TestCTCDispatchTrainFromYard checks that dispatching G001 from block 1
// to block 14 via block 13 activates a route and marks the train active
// at index 0.
func TestCTCDispatchTrainFromYard(t *testing.T) {
	ctc, _ := newTestCTC(t)
	now := NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	seq := []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}}
	route, err := ctc.DispatchTrainFromYard("G001", "Green", seq[0], seq[2], seq, now)
	require.NoError(t, err)

	tr := ctc.Train("G001")
	require.NotNil(t, tr)
	assert.True(t, tr.Active())
	assert.True(t, route.IsActive())
	assert.Equal(t, 0, route.CurrentBlockIndex())
	assert.Equal(t, BlockKey{Line: "Green", ID: 1}, route.StartBlock)
	assert.Equal(t, BlockKey{Line: "Green", ID: 14}, route.EndBlock)

	active := ctc.ActiveTrains()
	require.Len(t, active, 1)
	assert.Equal(t, "G001", active[0].TrainID)
}

func TestCTCDispatchTrainFromYardRollsBackOnBadRoute(t *testing.T) {
	ctc, _ := newTestCTC(t)
	now := NewTime(time.Now())

	// 1 -> 14 is not adjacent: route generation fails and the train must
	// not remain registered.
	bad := []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 14}}
	_, err := ctc.DispatchTrainFromYard("G002", "Green", bad[0], bad[1], bad, now)
	require.Error(t, err)
	assert.Nil(t, ctc.Train("G002"))
}

// TestCTCCloseBlockImmediatelySafety checks that close fails iff
// CanCloseSafely fails; on success the block joins maintenanceClosures.
func TestCTCCloseBlockImmediatelySafety(t *testing.T) {
	ctc, _ := newTestCTC(t)
	now := NewTime(time.Now())

	seq := []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}}
	_, err := ctc.DispatchTrainFromYard("G001", "Green", seq[0], seq[2], seq, now)
	require.NoError(t, err)

	err = ctc.CloseBlockImmediately("Green", 13, now)
	require.Error(t, err, "block 13 is on G001's active route")
	assert.False(t, ctc.IsUnderMaintenance("Green", 13))

	// A block with no active route through it closes cleanly.
	tm := ctc.TrackModel
	tm.AddBlock(NewBlock(BlockKey{Line: "Green", ID: 20}, 10, 60))
	require.NoError(t, ctc.CloseBlockImmediately("Green", 20, now))
	assert.True(t, ctc.IsUnderMaintenance("Green", 20))

	require.NoError(t, ctc.OpenBlockImmediately("Green", 20, now))
	assert.False(t, ctc.IsUnderMaintenance("Green", 20))
}

// TestCTCScheduledClosureThenOpening checks the paired closure/opening
// lifecycle.
func TestCTCScheduledClosureThenOpening(t *testing.T) {
	ctc, tm := newTestCTC(t)
	tm.AddBlock(NewBlock(BlockKey{Line: "Green", ID: 5}, 10, 60))

	start := NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	_, err := ctc.ScheduleBlockClosure("Green", 5, start.Add(5*time.Minute), 30*60)
	require.NoError(t, err)

	// Before the scheduled time: nothing executes.
	logs := ctc.ProcessScheduledClosures(start)
	assert.Empty(t, logs)
	assert.False(t, ctc.IsUnderMaintenance("Green", 5))

	at0530 := start.Add(5*time.Minute + 30*time.Second)
	logs = ctc.ProcessScheduledClosures(at0530)
	assert.Len(t, logs, 1)
	assert.True(t, ctc.IsUnderMaintenance("Green", 5))

	at1235 := start.Add(35*time.Minute + 30*time.Second)
	openLogs := ctc.ProcessScheduledOpenings(at1235)
	assert.Len(t, openLogs, 1)
	assert.False(t, ctc.IsUnderMaintenance("Green", 5))
}

// TestCTCScheduleBlockClosureUnknownBlock checks that the operation fails
// when the block is unknown.
func TestCTCScheduleBlockClosureUnknownBlock(t *testing.T) {
	ctc, _ := newTestCTC(t)
	_, err := ctc.ScheduleBlockClosure("Green", 9999, NewTime(time.Now()), 0)
	require.Error(t, err)
}

// TestCTCProcessOccupiedBlocksAmbiguous checks that two trains whose
// NextBlock both point at the same block produce an AMBIGUOUS_OCCUPANCY
// error and neither train's state changes.
func TestCTCProcessOccupiedBlocksAmbiguous(t *testing.T) {
	ctc, tm := newTestCTC(t)
	now := NewTime(time.Now())

	target := BlockKey{Line: "Green", ID: 13}
	t1 := NewTrain("G001", "Green", BlockKey{Line: "Green", ID: 1})
	t1.SetActive(true)
	t1.SetNextBlock(&target)
	t2 := NewTrain("G002", "Green", BlockKey{Line: "Green", ID: 1})
	t2.SetActive(true)
	t2.SetNextBlock(&target)
	ctc.AddTrain(t1)
	ctc.AddTrain(t2)
	ctc.mu.Lock()
	ctc.activeTrainIDs["G001"] = true
	ctc.activeTrainIDs["G002"] = true
	ctc.mu.Unlock()

	err := ctc.ProcessOccupiedBlocks([]OccupancyUpdate{{Line: "Green", Block: 13, Occupied: true}}, now)
	require.Error(t, err)
	var ambiguous *AmbiguousOccupancyError
	require.ErrorAs(t, err, &ambiguous)
	assert.ElementsMatch(t, []string{"G001", "G002"}, ambiguous.Candidates)

	// The block occupancy flag is still updated even though reconciliation
	// could not pick a train; only train state is left unresolved.
	assert.True(t, tm.Block(target).Occupied())
}

func TestCTCCheckForEmergencies(t *testing.T) {
	ctc, _ := newTestCTC(t)
	ctc.Options.EmergencyStationarySeconds = 120

	tr := NewTrain("G001", "Green", BlockKey{Line: "Green", ID: 1})
	tr.SetActive(true)
	ctc.AddTrain(tr)
	ctc.mu.Lock()
	ctc.activeTrainIDs["G001"] = true
	ctc.mu.Unlock()

	base := NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Empty(t, ctc.CheckForEmergencies(base))

	tr.MarkStationaryTick(base)
	assert.Empty(t, ctc.CheckForEmergencies(base.Add(60*time.Second)))
	offenders := ctc.CheckForEmergencies(base.Add(121 * time.Second))
	assert.Equal(t, []string{"G001"}, offenders)
}
