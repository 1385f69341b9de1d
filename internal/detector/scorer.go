package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// Detection thresholds and weights from the scoring model.
	patternDetectThreshold = 0.3
	keywordScoreThreshold  = 0.2
	linguisticThreshold    = 0.3

	ageGapWeight     = 0.3
	keywordWeight    = 0.4
	linguisticWeight = 0.3
)

// patternScanOrder fixes the iteration order over the indicator tables so
// identical inputs always produce identical results, pattern lists included.
var patternScanOrder = []Pattern{
	PatternTrustBuilding,
	PatternIsolation,
	PatternDependency,
	PatternSexualContent,
	PatternMeetingRequest,
	PatternSecrecy,
	PatternGiftOffering,
	PatternPersonalInfoRequest,
}

// Scorer computes a per-message grooming risk assessment. It is a pure
// function of its inputs: no I/O, no conversation state, deterministic for
// identical arguments. Conversation-level escalation lives in Tracker.
type Scorer struct{}

// NewScorer returns a message risk scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score analyzes a single message for grooming indicators. senderAge and
// recipientAge are optional; zero means unknown. An empty message yields the
// terminal default: low risk at confidence 0.1.
func (s *Scorer) Score(message string, senderAge, recipientAge int) *Result {
	lower := strings.ToLower(message)
	sum := sha256.Sum256([]byte(message))

	var (
		detected    []Pattern
		riskFactors []string
		total       float64
	)

	// Age-gap factor
	if gapRisk := ageGapRisk(senderAge, recipientAge); gapRisk > 0 {
		riskFactors = append(riskFactors, fmt.Sprintf("Significant age gap detected: %.1f", gapRisk))
		total += gapRisk * ageGapWeight
	}

	// Pattern detection
	for _, p := range patternScanOrder {
		cfg := groomingPatterns[p]
		score := patternScore(lower, cfg)
		if score > patternDetectThreshold {
			detected = append(detected, p)
			riskFactors = append(riskFactors, fmt.Sprintf("%s: %.2f", p, score))
			total += score * cfg.Weight
		}
	}

	// Keyword density
	if kw := keywordScore(lower); kw > keywordScoreThreshold {
		riskFactors = append(riskFactors, fmt.Sprintf("Risk keywords detected: %.2f", kw))
		total += kw * keywordWeight
	}

	// Linguistic heuristics
	if ling := linguisticScore(message); ling > linguisticThreshold {
		riskFactors = append(riskFactors, fmt.Sprintf("Suspicious linguistic patterns: %.2f", ling))
		total += ling * linguisticWeight
	}

	level, confidence := resolveRiskLevel(total, len(detected))

	return &Result{
		Level:           level,
		Confidence:      confidence,
		Patterns:        detected,
		RiskFactors:     riskFactors,
		Score:           total,
		Explanation:     explain(detected, total),
		Recommendations: recommend(level, detected),
		MessageHash:     hex.EncodeToString(sum[:]),
		Timestamp:       time.Now().UTC(),
	}
}

// ageGapRisk scores the sender/recipient age gap. Only gaps involving a
// minor recipient carry risk; unknown ages contribute nothing.
func ageGapRisk(senderAge, recipientAge int) float64 {
	if senderAge <= 0 || recipientAge <= 0 || recipientAge >= 18 {
		return 0
	}
	gap := senderAge - recipientAge
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap >= 10:
		return 0.8
	case gap >= 5:
		return 0.5
	case gap >= 3:
		return 0.3
	default:
		return 0
	}
}

// patternScore scores one pattern's indicator tables against a lowercased
// message: 0.1 per keyword hit, 0.3 per phrase hit, clamped to [0,1].
func patternScore(lower string, cfg patternIndicators) float64 {
	score := 0.0
	for _, kw := range cfg.Keywords {
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}
	for _, phrase := range cfg.Phrases {
		if phrase.MatchString(lower) {
			score += 0.3
		}
	}
	return clamp01(score)
}

// keywordScore computes the weighted keyword density of a message.
func keywordScore(lower string) float64 {
	wordCount := len(strings.Fields(lower))
	if wordCount == 0 {
		return 0
	}

	total := 0.0
	for _, keyword := range riskKeywordOrder {
		weight := riskKeywords[keyword]
		count := strings.Count(lower, keyword)
		if count == 0 {
			continue
		}
		multiplier := 1.0
		if count > 1 {
			multiplier = 1.0 + float64(count-1)*0.2
		}
		total += weight * multiplier
	}

	// Scale factor of 10 keeps short messages with dense keywords visible.
	return clamp01(total / float64(wordCount) * 10)
}

// linguisticScore sums the three heuristic regex families: compliments 0.2,
// manipulation 0.3, urgency 0.2 per hit.
func linguisticScore(message string) float64 {
	score := 0.0
	score += matchSum(complimentPatterns, message, 0.2)
	score += matchSum(manipulationPatterns, message, 0.3)
	score += matchSum(urgencyPatterns, message, 0.2)
	return clamp01(score)
}

func matchSum(patterns []*regexp.Regexp, message string, perHit float64) float64 {
	sum := 0.0
	for _, re := range patterns {
		if re.MatchString(message) {
			sum += perHit
		}
	}
	return sum
}

// resolveRiskLevel maps a total score and pattern count onto a risk level
// and confidence. Branch order matters: evaluate top-down, first match wins.
// The fall-through default is distinct from the low branch above it and
// pins confidence at 0.1.
func resolveRiskLevel(total float64, patternCount int) (RiskLevel, float64) {
	adjusted := total + float64(patternCount)*0.1
	confidence := adjusted*0.8 + float64(patternCount)*0.05
	if confidence > 1.0 {
		confidence = 1.0
	}

	switch {
	case adjusted >= 0.8 || patternCount >= 4:
		return RiskCritical, confidence
	case adjusted >= 0.6 || patternCount >= 3:
		return RiskHigh, confidence
	case adjusted >= 0.4 || patternCount >= 2:
		return RiskMedium, confidence
	case adjusted >= 0.2 || patternCount >= 1:
		return RiskLow, confidence
	default:
		return RiskLow, 0.1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
