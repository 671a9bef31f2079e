package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestionEngineCloseIdleFailedBlock(t *testing.T) {
	ctc, tm := newTestCTC(t)
	ctc.Options.SuggestionsEnabled = true
	ctc.Options.CurrentTime = NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	target := BlockKey{Line: "Green", ID: 14}
	tm.Block(target).SetFailed(true, "track circuit fault", ctc.Options.CurrentTime)

	engine := NewSuggestionEngine(ctc)
	engine.Recompute()

	ctc.mu.RLock()
	items := ctc.Suggestions.Items
	ctc.mu.RUnlock()

	require.NotEmpty(t, items)
	var found bool
	for _, s := range items {
		if s.Kind == SuggestionCloseBlock {
			found = true
			assert.Contains(t, s.Reason, "track circuit fault")
		}
	}
	assert.True(t, found, "a failed, unrouted block should surface a close suggestion")
}

func TestSuggestionEngineSkipsBlockWithActiveRoute(t *testing.T) {
	ctc, tm := newTestCTC(t)
	ctc.Options.SuggestionsEnabled = true
	ctc.Options.CurrentTime = NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	seq := []BlockKey{{Line: "Green", ID: 1}, {Line: "Green", ID: 13}, {Line: "Green", ID: 14}}
	_, err := ctc.DispatchTrainFromYard("G001", "Green", seq[0], seq[2], seq, ctc.Options.CurrentTime)
	require.NoError(t, err)
	tm.Block(seq[1]).SetFailed(true, "fault", ctc.Options.CurrentTime)

	engine := NewSuggestionEngine(ctc)
	engine.Recompute()

	ctc.mu.RLock()
	items := ctc.Suggestions.Items
	ctc.mu.RUnlock()
	for _, s := range items {
		assert.NotEqual(t, SuggestionCloseBlock, s.Kind, "a block with an active route through it must not be suggested for closure")
	}
}

func TestSuggestionEngineRejectSuppressesUntilExpiry(t *testing.T) {
	ctc, tm := newTestCTC(t)
	ctc.Options.SuggestionsEnabled = true
	ctc.Options.CurrentTime = NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	tm.Block(BlockKey{Line: "Green", ID: 14}).SetFailed(true, "fault", ctc.Options.CurrentTime)

	engine := NewSuggestionEngine(ctc)
	engine.Recompute()

	ctc.mu.RLock()
	require.NotEmpty(t, ctc.Suggestions.Items)
	id := ctc.Suggestions.Items[0].ID
	ctc.mu.RUnlock()

	engine.Reject(id, 10)
	engine.Recompute()

	ctc.mu.RLock()
	for _, s := range ctc.Suggestions.Items {
		assert.NotEqual(t, id, s.ID, "a rejected suggestion must not reappear before its rejection window elapses")
	}
	ctc.mu.RUnlock()

	ctc.Options.CurrentTime = ctc.Options.CurrentTime.Add(11 * time.Minute)
	engine.Recompute()

	ctc.mu.RLock()
	defer ctc.mu.RUnlock()
	var reappeared bool
	for _, s := range ctc.Suggestions.Items {
		if s.ID == id {
			reappeared = true
		}
	}
	assert.True(t, reappeared, "the suggestion should resurface once the rejection window has elapsed")
}

func TestSuggestionEngineAcceptCloseBlock(t *testing.T) {
	ctc, tm := newTestCTC(t)
	tm.AddBlock(NewBlock(BlockKey{Line: "Green", ID: 20}, 10, 60))
	ctc.Options.CurrentTime = NewTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	engine := NewSuggestionEngine(ctc)

	id := string(SuggestionCloseBlock) + ":Green:20"
	require.NoError(t, engine.Accept(id))
	assert.True(t, ctc.IsUnderMaintenance("Green", 20))
}

func TestSuggestionEngineDisabledNeverRecomputes(t *testing.T) {
	ctc, _ := newTestCTC(t)
	ctc.Options.SuggestionsEnabled = false
	engine := NewSuggestionEngine(ctc)
	assert.False(t, engine.RecomputeIfDue())
}
