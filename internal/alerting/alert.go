package alerting

import (
	"fmt"
	"sync"
	"time"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

var severityRank = map[Severity]int{
	SeverityLow:       1,
	SeverityMedium:    2,
	SeverityHigh:      3,
	SeverityCritical:  4,
	SeverityEmergency: 5,
}

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive        Status = "active"
	StatusAcknowledged  Status = "acknowledged"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusEscalated     Status = "escalated"
	StatusDismissed     Status = "dismissed"
	StatusFalsePositive Status = "false_positive"
)

// validTransitions is the single source of truth for the alert state machine.
// Resolved, Dismissed, and FalsePositive are terminal.
var validTransitions = map[Status][]Status{
	StatusActive: {
		StatusAcknowledged, StatusInvestigating, StatusResolved,
		StatusEscalated, StatusDismissed, StatusFalsePositive,
	},
	StatusAcknowledged: {
		StatusInvestigating, StatusResolved, StatusEscalated,
		StatusDismissed, StatusFalsePositive,
	},
	StatusInvestigating: {
		StatusResolved, StatusEscalated, StatusDismissed, StatusFalsePositive,
	},
	StatusEscalated: {
		StatusResolved, StatusDismissed,
	},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusAcknowledged, StatusInvestigating,
		StatusResolved, StatusEscalated, StatusDismissed, StatusFalsePositive:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status: %q", s)
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0 && s != ""
}

// EscalationLevel is who currently owns the response to an alert.
type EscalationLevel string

const (
	LevelGuardian          EscalationLevel = "guardian"
	LevelFamilyAdmin       EscalationLevel = "family_admin"
	LevelSystemAdmin       EscalationLevel = "system_admin"
	LevelLawEnforcement    EscalationLevel = "law_enforcement"
	LevelEmergencyServices EscalationLevel = "emergency_services"
)

var escalationChain = []EscalationLevel{
	LevelGuardian,
	LevelFamilyAdmin,
	LevelSystemAdmin,
	LevelLawEnforcement,
	LevelEmergencyServices,
}

// Next returns the next level in the escalation chain and false at the top.
func (l EscalationLevel) Next() (EscalationLevel, bool) {
	for i, level := range escalationChain {
		if level == l && i+1 < len(escalationChain) {
			return escalationChain[i+1], true
		}
	}
	return l, false
}

// ParseEscalationLevel validates an escalation level string.
func ParseEscalationLevel(s string) (EscalationLevel, error) {
	for _, level := range escalationChain {
		if level == EscalationLevel(s) {
			return level, nil
		}
	}
	return "", fmt.Errorf("unknown escalation level: %q", s)
}

func (l EscalationLevel) rank() int {
	for i, level := range escalationChain {
		if level == l {
			return i
		}
	}
	return -1
}

// Above reports whether l outranks other in the escalation chain.
func (l EscalationLevel) Above(other EscalationLevel) bool {
	return l.rank() > other.rank()
}

// EscalationEntry is one step of an alert's escalation history, appended
// immutably.
type EscalationEntry struct {
	From      EscalationLevel `json:"from"`
	To        EscalationLevel `json:"to"`
	Reason    string          `json:"reason"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alert is a single safety alert and its lifecycle state. All mutation goes
// through the owning Engine, which takes mu.
type Alert struct {
	mu sync.Mutex

	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	ChildID         string          `json:"child_id"`
	ConversationID  string          `json:"conversation_id,omitempty"`
	Severity        Severity        `json:"severity"`
	Status          Status          `json:"status"`
	EscalationLevel EscalationLevel `json:"escalation_level"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	RiskLevel       string          `json:"risk_level"`
	Confidence      float64         `json:"confidence"`
	Patterns        []string        `json:"patterns,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	History []EscalationEntry `json:"escalation_history,omitempty"`

	// timer is the pending auto-escalation; nil once fired or cancelled.
	timer *time.Timer
}

// Snapshot returns a copy of the alert safe to serialize without holding the
// engine's locks.
func (a *Alert) Snapshot() *Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// copyLocked duplicates the alert's exported state. Caller holds a.mu.
func (a *Alert) copyLocked() *Alert {
	cp := &Alert{
		ID:              a.ID,
		SessionID:       a.SessionID,
		ChildID:         a.ChildID,
		ConversationID:  a.ConversationID,
		Severity:        a.Severity,
		Status:          a.Status,
		EscalationLevel: a.EscalationLevel,
		Title:           a.Title,
		Description:     a.Description,
		RiskLevel:       a.RiskLevel,
		Confidence:      a.Confidence,
		AssignedTo:      a.AssignedTo,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	cp.Patterns = append([]string(nil), a.Patterns...)
	cp.Recommendations = append([]string(nil), a.Recommendations...)
	cp.History = append([]EscalationEntry(nil), a.History...)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
