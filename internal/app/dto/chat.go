package dto

import (
	"time"

	"huddle/internal/domain/chat"
)

// Conversation describes thread metadata as seen by one participant.
type Conversation struct {
	ID           string       `json:"id"`
	PeerID       string       `json:"peer_id"`
	Participants []string     `json:"participants"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// LastMessage is the denormalized snapshot used by list views.
type LastMessage struct {
	Body     string    `json:"body"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// ConversationList is the conversation collection payload.
type ConversationList struct {
	Items []Conversation `json:"items"`
}

// Message is a single chat message payload.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// MessageList is a cursor-paginated message page. NextBefore is the createdAt
// of the oldest item; passing it as ?before= fetches the previous page.
type MessageList struct {
	Items      []Message `json:"items"`
	NextBefore string    `json:"next_before,omitempty"`
}

// FromConversation projects a conversation onto one participant's view.
func FromConversation(c *chat.Conversation, viewer string) Conversation {
	out := Conversation{
		ID:           string(c.ID),
		PeerID:       c.Peer(viewer),
		Participants: append([]string(nil), c.Participants...),
		UnreadCount:  c.UnreadCounts.Get(viewer),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		out.LastMessage = &LastMessage{
			Body:     c.LastMessage.Body,
			SenderID: c.LastMessage.SenderID,
			SentAt:   c.LastMessage.SentAt,
		}
	}
	return out
}

// FromMessage maps a domain message to its wire shape.
func FromMessage(m *chat.Message) Message {
	return Message{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

// FromMessages maps a page of messages.
func FromMessages(msgs []*chat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}
