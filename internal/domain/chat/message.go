package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type MessageID string

// MaxBodyLength bounds message bodies in characters after trimming.
const MaxBodyLength = 2000

// Notification carries the out-of-band delivery state for one message. All
// fields stay unset for messages read before the scheduler reaches them.
type Notification struct {
	ScheduledFor       *time.Time
	EmailSentAt        *time.Time
	EmailCancelledAt   *time.Time
	EmailAttempts      int
	EmailLastAttemptAt *time.Time
	EmailError         string
}

// Message is an immutable entry in a conversation's log; only ReadAt and the
// notification fields mutate after creation.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	RecipientID    string
	Body           string
	CreatedAt      time.Time
	ReadAt         *time.Time
	Notification   Notification
}

// ValidateBody trims the body and enforces the length bounds.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", ErrBodyTooLong
	}
	return body, nil
}

// NewMessage validates the body and builds a message scheduled for an
// out-of-band notification attempt.
func NewMessage(conversationID ConversationID, senderID, recipientID, body string) (*Message, error) {
	body, err := ValidateBody(body)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	scheduled := now
	return &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Body:           body,
		CreatedAt:      now,
		Notification:   Notification{ScheduledFor: &scheduled},
	}, nil
}

func (m *Message) Read() bool {
	return m.ReadAt != nil
}
