package detector

import "time"

// RiskLevel describes the severity of a single message or session.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score maps a risk level onto [0,1] for session aggregation.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLow:
		return 0.2
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 0.8
	case RiskCritical:
		return 1.0
	default:
		return 0.0
	}
}

// AtLeast reports whether r is at or above other in the low < medium < high <
// critical ordering.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// Pattern is a behavioral grooming category detected via keyword and phrase
// matching. The set is closed; RiskAssessment and Exclusivity carry no
// indicator tables and are never produced by the scorer, but remain valid
// values on the wire.
type Pattern string

const (
	PatternTrustBuilding       Pattern = "trust_building"
	PatternIsolation           Pattern = "isolation"
	PatternDependency          Pattern = "dependency"
	PatternSexualContent       Pattern = "sexual_content"
	PatternMeetingRequest      Pattern = "meeting_request"
	PatternSecrecy             Pattern = "secrecy"
	PatternGiftOffering        Pattern = "gift_offering"
	PatternPersonalInfoRequest Pattern = "personal_info_request"
	PatternRiskAssessment      Pattern = "risk_assessment"
	PatternExclusivity         Pattern = "exclusivity"
)

// Result is the outcome of scoring a single message. It is never mutated
// after creation.
type Result struct {
	Level           RiskLevel `json:"risk_level"`
	Confidence      float64   `json:"confidence"`
	Patterns        []Pattern `json:"patterns"`
	RiskFactors     []string  `json:"risk_factors"`
	Score           float64   `json:"score"`
	Explanation     string    `json:"explanation"`
	Recommendations []string  `json:"recommendations"`
	MessageHash     string    `json:"message_hash"`
	Timestamp       time.Time `json:"timestamp"`
}

// HasPattern reports whether p was detected.
func (r *Result) HasPattern(p Pattern) bool {
	for _, detected := range r.Patterns {
		if detected == p {
			return true
		}
	}
	return false
}
