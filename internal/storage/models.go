package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role identifies the author of a persisted chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType classifies a persisted chat message.
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageCrisis        MessageType = "crisis"
	MessageEncouragement MessageType = "encouragement"
	MessageQuestion      MessageType = "question"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageCrisis, MessageEncouragement, MessageQuestion:
		return true
	}
	return false
}

// Severity is a crisis severity level on a 1-10 scale.
type Severity int

const (
	SeverityMin Severity = 1
	SeverityMax Severity = 10
)

// Valid reports whether s is within the 1-10 scale.
func (s Severity) Valid() bool {
	return s >= SeverityMin && s <= SeverityMax
}

// CrisisRule pairs trigger keywords with a severity level and a canned
// safe response. Rules are reference data; Position fixes retrieval order,
// which in turn fixes match precedence.
type CrisisRule struct {
	ID                   int64    `json:"id"`
	Keywords             []string `json:"keywords"`
	Severity             Severity `json:"severity"`
	Response             string   `json:"response"`
	RequiresIntervention bool     `json:"requiresIntervention"`
	Position             int      `json:"position"`
}

// Message is one entry in the append-only conversation log.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	CrisisLevel    Severity    `json:"crisisLevel,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// SobrietyRecord is a user's tracked recovery journey for one addiction.
// StreakDays is derived from StartDate at read time, not stored.
type SobrietyRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Addiction  string    `json:"addiction"`
	StartDate  time.Time `json:"startDate"`
	StreakDays int       `json:"streakDays"`
	Active     bool      `json:"active"`
}

// MoodEntry is a single mood check-in on a 1-5 scale.
type MoodEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Mood      int       `json:"mood"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SupportResource is a crisis-support resource (hotline, guide, article).
type SupportResource struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
