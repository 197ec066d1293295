package chat

import (
	"context"
	"time"

	"huddle/internal/app/dto"
)

type EventType string

const (
	EventMessageNew         EventType = "message:new"
	EventMessageRead        EventType = "message:read"
	EventConversationUpdate EventType = "conversation:update"
	EventPresenceUpdate     EventType = "presence:update"
)

// Event is one push-channel frame. Users lists the target user rooms; an
// empty list means every connected client.
type Event struct {
	Type    EventType `json:"type"`
	Users   []string  `json:"users,omitempty"`
	Payload any       `json:"payload"`
}

// Publisher fans events out to connected clients. Implementations must not
// block the caller; delivery is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// NopPublisher drops every event. Used when no gateway is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// MessageNewPayload accompanies EventMessageNew.
type MessageNewPayload struct {
	Message        dto.Message `json:"message"`
	ConversationID string      `json:"conversation_id"`
}

// MessageReadPayload accompanies EventMessageRead.
type MessageReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// PresencePayload accompanies EventPresenceUpdate.
type PresencePayload struct {
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)
