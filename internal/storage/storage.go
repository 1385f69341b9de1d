package storage

import (
	"context"
	"time"
)

// AnalysisRecord is the per-message analysis handed to the storage
// collaborator.
type AnalysisRecord struct {
	ID              string    `db:"id" json:"id"`
	SessionID       string    `db:"session_id" json:"session_id"`
	RiskLevel       string    `db:"risk_level" json:"risk_level"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	Patterns        []string  `db:"-" json:"patterns"`
	RiskFactors     []string  `db:"-" json:"risk_factors"`
	Explanation     string    `db:"explanation" json:"explanation"`
	Recommendations []string  `db:"-" json:"recommendations"`
	Timestamp       time.Time `db:"created_at" json:"timestamp"`
	MessageHash     string    `db:"message_hash" json:"message_hash"`
}

// AlertRecord is the alert snapshot handed to the storage collaborator.
type AlertRecord struct {
	AlertID         string     `db:"id" json:"alert_id"`
	SessionID       string     `db:"session_id" json:"session_id"`
	ChildID         string     `db:"child_id" json:"child_id"`
	Severity        string     `db:"severity" json:"severity"`
	Status          string     `db:"status" json:"status"`
	EscalationLevel string     `db:"escalation_level" json:"escalation_level"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	AcknowledgedAt  *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	EscalatedTo     *string    `db:"escalated_to" json:"escalated_to,omitempty"`
}

// AgeDirectory resolves a user's age. The second return is false when the
// age is unknown.
type AgeDirectory interface {
	LoadUserAge(ctx context.Context, userID string) (int, bool)
}

// AnalysisStore persists per-message analysis records. Best effort: the
// pipeline logs failures and keeps going.
type AnalysisStore interface {
	PersistAnalysis(ctx context.Context, record *AnalysisRecord) error
}

// AlertStore persists alert snapshots. Best effort, same contract as
// AnalysisStore.
type AlertStore interface {
	PersistAlert(ctx context.Context, record *AlertRecord) error
}
