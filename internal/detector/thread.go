package detector

import (
	"fmt"
	"strings"
	"time"
)

// ThreadMessage is one message of a conversation thread submitted for
// retrospective analysis.
type ThreadMessage struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ThreadAnalysis is the whole-conversation assessment.
type ThreadAnalysis struct {
	OverallRisk        RiskLevel `json:"overall_risk"`
	Confidence         float64   `json:"confidence"`
	Results            []*Result `json:"message_analyses"`
	EscalationDetected bool      `json:"escalation_detected"`
	UniquePatterns     []Pattern `json:"pattern_progression"`
	Recommendations    []string  `json:"recommendations"`
	Summary            string    `json:"summary"`
}

// AnalyzeThread scores every message of a thread in order, feeding a fresh
// conversation context, and derives a thread-level risk plus an escalation
// verdict.
//
// The escalation heuristic splits the thread at n/2 (integer division) and
// flags escalation when the second half's average risk exceeds the first
// half's by more than 20%. Threads shorter than 3 messages never escalate.
// This split is an arbitrary heuristic carried over from the original
// model, not a statistically validated signal.
func (s *Scorer) AnalyzeThread(messages []ThreadMessage) *ThreadAnalysis {
	analysis := &ThreadAnalysis{OverallRisk: RiskLow}
	if len(messages) == 0 {
		return analysis
	}

	tracker := NewTracker()
	threadID := "thread"

	totalScore := 0.0
	seen := make(map[Pattern]bool)
	for _, msg := range messages {
		result := s.Score(msg.Content, 0, 0)
		tracker.Update(threadID, result)
		analysis.Results = append(analysis.Results, result)

		totalScore += result.Confidence * threadLevelWeight(result.Level)
		for _, p := range result.Patterns {
			if !seen[p] {
				seen[p] = true
				analysis.UniquePatterns = append(analysis.UniquePatterns, p)
			}
		}
	}

	avgScore := totalScore / float64(len(messages))
	analysis.OverallRisk, analysis.Confidence = resolveRiskLevel(avgScore, len(analysis.UniquePatterns))
	analysis.EscalationDetected = detectEscalation(analysis.Results)
	analysis.Recommendations = threadRecommendations(analysis.OverallRisk, analysis.UniquePatterns, analysis.EscalationDetected)
	analysis.Summary = threadSummary(len(messages), analysis.OverallRisk, len(analysis.UniquePatterns), analysis.EscalationDetected)
	return analysis
}

func threadLevelWeight(level RiskLevel) float64 {
	switch level {
	case RiskCritical:
		return 1.0
	case RiskHigh:
		return 0.8
	case RiskMedium:
		return 0.6
	default:
		return 0.3
	}
}

// detectEscalation compares first-half and second-half average risk ranks.
func detectEscalation(results []*Result) bool {
	if len(results) < 3 {
		return false
	}

	half := len(results) / 2
	firstSum, secondSum := 0, 0
	for i, r := range results {
		if i < half {
			firstSum += r.Level.rank()
		} else {
			secondSum += r.Level.rank()
		}
	}

	firstAvg := float64(firstSum) / float64(half)
	secondAvg := float64(secondSum) / float64(len(results)-half)
	return secondAvg > firstAvg*1.2
}

func threadRecommendations(risk RiskLevel, patterns []Pattern, escalation bool) []string {
	var recs []string
	if escalation {
		recs = append(recs, "ESCALATION DETECTED: Grooming behavior is intensifying over time")
	}
	if risk.AtLeast(RiskHigh) {
		recs = append(recs,
			"URGENT: This conversation thread shows clear signs of grooming",
			"Immediately involve law enforcement and child protection services",
			"Preserve entire conversation history as evidence",
			"Ensure child's safety and prevent further contact",
		)
	}
	if len(patterns) >= 3 {
		recs = append(recs, "Multiple grooming patterns detected across conversation")
	}
	return recs
}

func threadSummary(messageCount int, risk RiskLevel, patternCount int, escalation bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d messages in conversation thread. ", messageCount)
	fmt.Fprintf(&b, "Overall risk level: %s. ", strings.ToUpper(string(risk)))
	fmt.Fprintf(&b, "Detected %d unique grooming patterns. ", patternCount)

	if escalation {
		b.WriteString("ESCALATION DETECTED - grooming behavior intensifies over time. ")
	}

	switch {
	case risk.AtLeast(RiskHigh):
		b.WriteString("IMMEDIATE INTERVENTION REQUIRED.")
	case risk == RiskMedium:
		b.WriteString("Increased monitoring and guardian notification recommended.")
	default:
		b.WriteString("Continue routine monitoring.")
	}

	return b.String()
}
