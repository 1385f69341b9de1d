package detector

import (
	"sync"
	"time"
)

const (
	progressionBonus      = 0.2
	frequentMessageBonus  = 0.1
	frequentMessageFloor  = 10
	defaultConversationTTL = 24 * time.Hour
)

// conversationContext is the per-conversation mutable state. patternHistory
// is append-only; insertion order is significant for progression checks.
// Each context has its own lock so writers for different conversations never
// contend, and writers for the same conversation are serialized.
type conversationContext struct {
	mu              sync.Mutex
	messagesSeen    uint64
	patternHistory  []Pattern
	escalationScore float64
	lastSeen        time.Time
}

func (c *conversationContext) hasPattern(p Pattern) bool {
	for _, seen := range c.patternHistory {
		if seen == p {
			return true
		}
	}
	return false
}

// Tracker aggregates grooming-pattern progressions across the lifetime of a
// conversation. Contexts are created lazily on first update and evicted by
// TTL; the original system never evicted, which grows without bound in a
// long-lived process.
type Tracker struct {
	mu            sync.RWMutex
	conversations map[string]*conversationContext
	ttl           time.Duration
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithConversationTTL sets how long an idle conversation context is kept
// before EvictExpired removes it.
func WithConversationTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// NewTracker creates a conversation escalation tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		conversations: make(map[string]*conversationContext),
		ttl:           defaultConversationTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Update appends the result's patterns to the conversation's history and
// returns the new escalation bonus. The bonus replaces, not accumulates: it
// is recomputed from scratch on every message.
//
// A progression step earns +0.2 when an earlier stage is anywhere in history
// and the next stage appears in the current message. Conversations past 10
// messages earn a flat +0.1 frequent-messaging bonus.
func (t *Tracker) Update(conversationID string, result *Result) float64 {
	ctx := t.context(conversationID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.messagesSeen++
	ctx.lastSeen = time.Now()

	// History is extended before the progression check, so a single message
	// carrying both stages of an adjacent pair counts as a progression.
	ctx.patternHistory = append(ctx.patternHistory, result.Patterns...)

	score := 0.0
	for i := 0; i < len(progressionOrder)-1; i++ {
		if ctx.hasPattern(progressionOrder[i]) && result.HasPattern(progressionOrder[i+1]) {
			score += progressionBonus
		}
	}

	if ctx.messagesSeen > frequentMessageFloor {
		score += frequentMessageBonus
	}

	ctx.escalationScore = score
	return score
}

// EscalationScore returns the last computed escalation score for a
// conversation, or zero if the conversation is unknown.
func (t *Tracker) EscalationScore(conversationID string) float64 {
	t.mu.RLock()
	ctx, ok := t.conversations[conversationID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.escalationScore
}

// MessagesSeen returns how many messages a conversation has contributed.
func (t *Tracker) MessagesSeen(conversationID string) uint64 {
	t.mu.RLock()
	ctx, ok := t.conversations[conversationID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.messagesSeen
}

// Len returns the number of tracked conversations.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conversations)
}

// EvictExpired removes conversations idle past the TTL and returns how many
// were removed. Called from the background sweep.
func (t *Tracker) EvictExpired() int {
	cutoff := time.Now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, ctx := range t.conversations {
		ctx.mu.Lock()
		idle := ctx.lastSeen.Before(cutoff)
		ctx.mu.Unlock()
		if idle {
			delete(t.conversations, id)
			evicted++
		}
	}
	return evicted
}

// context returns the conversation's state, creating it lazily.
func (t *Tracker) context(conversationID string) *conversationContext {
	t.mu.RLock()
	ctx, ok := t.conversations[conversationID]
	t.mu.RUnlock()
	if ok {
		return ctx
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx, ok = t.conversations[conversationID]; ok {
		return ctx
	}
	ctx = &conversationContext{lastSeen: time.Now()}
	t.conversations[conversationID] = ctx
	return ctx
}
