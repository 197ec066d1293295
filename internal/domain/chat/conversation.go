package chat

import (
	"sort"
	"strings"
	"time"
)

type ConversationID string

// LastMessage is the denormalized snapshot shown on conversation lists.
type LastMessage struct {
	Body     string
	SenderID string
	SentAt   time.Time
}

// UnreadCounts tracks delivered-but-unread messages per participant.
type UnreadCounts map[string]int

func (u UnreadCounts) Get(userID string) int {
	if u == nil {
		return 0
	}
	return u[userID]
}

func (u UnreadCounts) Increment(userID string) {
	u[userID]++
}

func (u UnreadCounts) Zero(userID string) {
	if u != nil {
		u[userID] = 0
	}
}

// Conversation is a two-party thread. Identity is the canonical participant
// key, so (A,B) and (B,A) always resolve to the same record.
type Conversation struct {
	ID             ConversationID
	Participants   []string
	ParticipantKey string
	LastMessage    *LastMessage
	UnreadCounts   UnreadCounts
	DeletedFor     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ParticipantKey derives the order-independent identifier for a user pair.
func ParticipantKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// NewConversation builds a fresh conversation between two distinct users with
// both unread counters at zero.
func NewConversation(a, b string) (*Conversation, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return nil, ErrSelfConversation
	}
	now := time.Now().UTC()
	return &Conversation{
		Participants:   []string{a, b},
		ParticipantKey: ParticipantKey(a, b),
		UnreadCounts:   UnreadCounts{a: 0, b: 0},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant's id.
func (c *Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// DeletedBy reports whether the user soft-deleted this thread.
func (c *Conversation) DeletedBy(userID string) bool {
	for _, d := range c.DeletedFor {
		if d == userID {
			return true
		}
	}
	return false
}
