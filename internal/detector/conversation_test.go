package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func resultWith(patterns ...Pattern) *Result {
	return &Result{Level: RiskMedium, Patterns: patterns}
}

func TestTrackerProgressionBonus(t *testing.T) {
	tr := NewTracker()

	bonus := tr.Update("conv-1", resultWith(PatternTrustBuilding))
	assert.Zero(t, bonus)

	bonus = tr.Update("conv-1", resultWith(PatternIsolation))
	assert.InDelta(t, 0.2, bonus, 0.0001)
}

func TestTrackerReverseOrderEarnsNoBonus(t *testing.T) {
	tr := NewTracker()

	tr.Update("conv-1", resultWith(PatternIsolation))
	bonus := tr.Update("conv-1", resultWith(PatternTrustBuilding))
	assert.Zero(t, bonus)
}

func TestTrackerSingleMessageBothStages(t *testing.T) {
	// History is extended before the pair scan, so both stages of a pair
	// inside one message already count as a progression.
	tr := NewTracker()
	bonus := tr.Update("conv-1", resultWith(PatternTrustBuilding, PatternIsolation))
	assert.InDelta(t, 0.2, bonus, 0.0001)

	// The next message continuing the chain keeps earning.
	bonus = tr.Update("conv-1", resultWith(PatternDependency))
	assert.InDelta(t, 0.2, bonus, 0.0001)
}

func TestTrackerMultipleProgressionSteps(t *testing.T) {
	tr := NewTracker()
	tr.Update("conv-1", resultWith(PatternTrustBuilding, PatternIsolation))

	bonus := tr.Update("conv-1", resultWith(PatternIsolation, PatternDependency))
	assert.InDelta(t, 0.4, bonus, 0.0001)
}

func TestTrackerFrequentMessagingBonus(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 10; i++ {
		bonus := tr.Update("conv-1", resultWith())
		assert.Zero(t, bonus, "message %d should earn no bonus", i+1)
	}

	bonus := tr.Update("conv-1", resultWith())
	assert.InDelta(t, 0.1, bonus, 0.0001)
	assert.Equal(t, uint64(11), tr.MessagesSeen("conv-1"))
}

func TestTrackerScoreReplacedNotAccumulated(t *testing.T) {
	tr := NewTracker()
	tr.Update("conv-1", resultWith(PatternTrustBuilding))
	tr.Update("conv-1", resultWith(PatternIsolation))
	assert.InDelta(t, 0.2, tr.EscalationScore("conv-1"), 0.0001)

	// A quiet message recomputes the score from scratch.
	tr.Update("conv-1", resultWith())
	assert.Zero(t, tr.EscalationScore("conv-1"))
}

func TestTrackerConversationsIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Update("conv-1", resultWith(PatternTrustBuilding))

	bonus := tr.Update("conv-2", resultWith(PatternIsolation))
	assert.Zero(t, bonus)
	assert.Equal(t, 2, tr.Len())
}

func TestTrackerUnknownConversation(t *testing.T) {
	tr := NewTracker()
	assert.Zero(t, tr.EscalationScore("missing"))
	assert.Zero(t, tr.MessagesSeen("missing"))
}

func TestTrackerEvictExpired(t *testing.T) {
	tr := NewTracker(WithConversationTTL(10 * time.Millisecond))
	tr.Update("conv-1", resultWith())
	assert.Equal(t, 1, tr.Len())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.EvictExpired())
	assert.Equal(t, 0, tr.Len())

	// Fresh conversations survive the sweep.
	tr.Update("conv-2", resultWith())
	assert.Equal(t, 0, tr.EvictExpired())
	assert.Equal(t, 1, tr.Len())
}
