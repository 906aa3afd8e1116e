package nudge

import (
	"time"

	"github.com/jordanhubbard/momentum/internal/emotion"
	"github.com/jordanhubbard/momentum/internal/flow"
)

// Nudge represents a short, timed suggestion surfaced to the user
type Nudge struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Nudge types
const (
	TypeInsight    = "insight"
	TypeReminder   = "reminder"
	TypeChallenge  = "challenge"
	TypeMotivation = "motivation"
)

// Priority bounds (higher = more urgent)
const (
	PriorityMin = 1
	PriorityMax = 5
)

// User responses recorded in history
const (
	ResponseAccepted  = "accepted"
	ResponseDismissed = "dismissed"
	ResponseSnoozed   = "snoozed"
)

// HistoryEntry records the terminal transition of an active nudge.
// Entries are append-only and never mutated after creation.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Nudge        Nudge     `json:"nudge"`
	UserResponse string    `json:"user_response"`
	ResponseTime time.Time `json:"response_time"`
}

// HistoryFilter defines filters for querying nudge history
type HistoryFilter struct {
	UserID   string
	Response string // empty = all responses
	Limit    int
	Offset   int
}

// HistoryStore persists history entries. Listing is newest-first by
// ResponseTime.
type HistoryStore interface {
	AppendHistory(entry *HistoryEntry) error
	ListHistory(filter HistoryFilter) ([]*HistoryEntry, error)
}

// Context carries the signals the generator ranks candidates against
type Context struct {
	EmotionalState string            `json:"emotional_state"`
	EnergyLevel    int               `json:"energy_level"`
	FlowPeriods    []flow.Period     `json:"flow_periods,omitempty"`
	History        []*HistoryEntry   `json:"history,omitempty"`
	Snapshot       *emotion.Snapshot `json:"snapshot,omitempty"`
}

// snoozed returns the derived copy a snooze produces: priority decays by
// one (floor 1) and the nudge becomes eligible again 5 minutes out.
func (n *Nudge) snoozed(now time.Time) *Nudge {
	derived := *n
	derived.Priority = n.Priority - 1
	if derived.Priority < PriorityMin {
		derived.Priority = PriorityMin
	}
	derived.CreatedAt = now.Add(SnoozeDelay)
	return &derived
}
