package detector

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreBenignMessage(t *testing.T) {
	s := NewScorer()
	result := s.Score("ok see you at lunch", 0, 0)

	assert.Equal(t, RiskLow, result.Level)
	assert.InDelta(t, 0.1, result.Confidence, 0.0001)
	assert.Empty(t, result.Patterns)
	assert.Zero(t, result.Score)
	assert.NotEmpty(t, result.Explanation)
	assert.NotEmpty(t, result.Recommendations)
	assert.Len(t, result.MessageHash, 64)
}

func TestScoreEmptyMessage(t *testing.T) {
	s := NewScorer()
	result := s.Score("", 0, 0)

	assert.Equal(t, RiskLow, result.Level)
	assert.InDelta(t, 0.1, result.Confidence, 0.0001)
	assert.Empty(t, result.Patterns)
}

func TestScoreSecrecyAndIsolation(t *testing.T) {
	s := NewScorer()
	result := s.Score("this is our secret, don't tell your parents", 0, 0)

	assert.Equal(t, RiskCritical, result.Level)
	assert.True(t, result.HasPattern(PatternIsolation))
	assert.True(t, result.HasPattern(PatternSecrecy))
	assert.InDelta(t, 1.0, result.Confidence, 0.0001)
	assert.NotEmpty(t, result.RiskFactors)
}

func TestScoreTrustBuilding(t *testing.T) {
	s := NewScorer()
	result := s.Score("you're so mature for your age", 0, 0)

	assert.Equal(t, RiskHigh, result.Level)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, PatternTrustBuilding, result.Patterns[0])
}

func TestScoreFourPatternsIsCritical(t *testing.T) {
	s := NewScorer()
	msg := "you can trust me. keep this between us. i'll take care of you. want to meet up and hang out"
	result := s.Score(msg, 0, 0)

	assert.Equal(t, RiskCritical, result.Level)
	assert.GreaterOrEqual(t, len(result.Patterns), 4)
	assert.InDelta(t, 1.0, result.Confidence, 0.0001)
	assert.True(t, result.HasPattern(PatternTrustBuilding))
	assert.True(t, result.HasPattern(PatternIsolation))
	assert.True(t, result.HasPattern(PatternDependency))
	assert.True(t, result.HasPattern(PatternMeetingRequest))
}

func TestScoreAgeGap(t *testing.T) {
	s := NewScorer()

	t.Run("large gap with minor recipient raises risk", func(t *testing.T) {
		result := s.Score("hello there", 30, 12)
		assert.Equal(t, RiskLow, result.Level)
		assert.Greater(t, result.Score, 0.0)
		require.NotEmpty(t, result.RiskFactors)
		assert.Contains(t, result.RiskFactors[0], "age gap")
	})

	t.Run("adult recipient contributes nothing", func(t *testing.T) {
		result := s.Score("hello there", 30, 25)
		assert.Zero(t, result.Score)
	})

	t.Run("unknown ages contribute nothing", func(t *testing.T) {
		result := s.Score("hello there", 0, 0)
		assert.Zero(t, result.Score)
	})
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer()
	msg := "you can trust me. keep this between us. want to meet up"

	first := s.Score(msg, 25, 13)
	second := s.Score(msg, 25, 13)

	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Patterns, second.Patterns)
	assert.Equal(t, first.MessageHash, second.MessageHash)
}

func TestKeywordOrderFixedAndComplete(t *testing.T) {
	// The summation order over the keyword table is pinned so identical
	// inputs always add floats in the same order.
	assert.Len(t, riskKeywordOrder, len(riskKeywords))
	assert.True(t, sort.StringsAreSorted(riskKeywordOrder))
	for _, k := range riskKeywordOrder {
		assert.Contains(t, riskKeywords, k)
	}
}

func TestResolveRiskLevel(t *testing.T) {
	tests := []struct {
		name         string
		total        float64
		patternCount int
		wantLevel    RiskLevel
	}{
		{"critical by score", 0.8, 0, RiskCritical},
		{"critical by patterns", 0.0, 4, RiskCritical},
		{"high by score", 0.6, 0, RiskHigh},
		{"high by patterns", 0.0, 3, RiskHigh},
		{"medium by score", 0.4, 0, RiskMedium},
		{"medium by patterns", 0.0, 2, RiskMedium},
		{"low by score", 0.2, 0, RiskLow},
		{"low by single pattern", 0.0, 1, RiskLow},
		{"terminal default", 0.0, 0, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, confidence := resolveRiskLevel(tt.total, tt.patternCount)
			assert.Equal(t, tt.wantLevel, level)
			if tt.name == "terminal default" {
				assert.InDelta(t, 0.1, confidence, 0.0001)
			} else {
				assert.Greater(t, confidence, 0.1)
			}
		})
	}
}

func TestPatternCountAdjustsScore(t *testing.T) {
	// The adjusted score adds 0.1 per detected pattern, so two patterns lift
	// a 0.25 total to medium.
	level, _ := resolveRiskLevel(0.25, 2)
	assert.Equal(t, RiskMedium, level)
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.True(t, RiskHigh.AtLeast(RiskHigh))
	assert.False(t, RiskMedium.AtLeast(RiskHigh))
	assert.Equal(t, 0.2, RiskLow.Score())
	assert.Equal(t, 0.5, RiskMedium.Score())
	assert.Equal(t, 0.8, RiskHigh.Score())
	assert.Equal(t, 1.0, RiskCritical.Score())
}

func TestRecommendationsForPatterns(t *testing.T) {
	recs := recommend(RiskCritical, []Pattern{PatternMeetingRequest, PatternSexualContent})

	joined := ""
	for _, r := range recs {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "law enforcement")
	assert.Contains(t, joined, "Meeting request detected")
	assert.Contains(t, joined, "Sexual content detected")
}
