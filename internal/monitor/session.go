package monitor

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a monitored session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
	SessionError   SessionStatus = "error"
)

// Message is one chat message submitted for analysis.
type Message struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// session is the monitor-owned state for one child's monitored session. A
// single goroutine consumes the queue, so message handling for a session is
// strictly ordered; the mutex only guards fields read from other goroutines.
type session struct {
	mu sync.Mutex

	id       string
	childID  string
	platform string
	status   SessionStatus

	riskScore    float64
	messageCount int64
	alertCount   int64
	startedAt    time.Time
	lastActivity time.Time

	// highRiskNotified marks that the session risk EMA has crossed the
	// high-risk threshold and the sustained-risk alert was already raised.
	highRiskNotified bool

	// recent holds message arrival times inside the rate window.
	recent []time.Time

	queue chan *Message
	done  chan struct{}
}

// View is a read-only snapshot of a session.
type View struct {
	ID           string        `json:"id"`
	ChildID      string        `json:"child_id"`
	Platform     string        `json:"platform"`
	Status       SessionStatus `json:"status"`
	RiskScore    float64       `json:"risk_score"`
	MessageCount int64         `json:"message_count"`
	AlertCount   int64         `json:"alert_count"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity"`
	QueueLen     int           `json:"queue_len"`
}

func (s *session) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:           s.id,
		ChildID:      s.childID,
		Platform:     s.platform,
		Status:       s.status,
		RiskScore:    s.riskScore,
		MessageCount: s.messageCount,
		AlertCount:   s.alertCount,
		StartedAt:    s.startedAt,
		LastActivity: s.lastActivity,
		QueueLen:     len(s.queue),
	}
}

// pruneRecentLocked drops arrival times older than the window and returns how
// many remain. Caller holds s.mu.
func (s *session) pruneRecentLocked(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	keep := s.recent[:0]
	for _, t := range s.recent {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	s.recent = keep
	return len(s.recent)
}
