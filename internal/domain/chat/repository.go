package chat

import (
	"context"
	"time"
)

// ConversationRepository persists two-party conversations keyed by the
// canonical participant pair.
type ConversationRepository interface {
	// GetOrCreate resolves the canonical conversation for the pair, creating
	// it with zeroed counters when absent. Implementations must absorb the
	// duplicate-key race between two concurrent first-sends by re-fetching.
	GetOrCreate(ctx context.Context, a, b string) (*Conversation, error)
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	// ByParticipants finds the existing conversation for the pair without
	// creating one; ErrConversationNotFound when absent.
	ByParticipants(ctx context.Context, a, b string) (*Conversation, error)
	// ListForUser returns conversations visible to the user (not soft-deleted
	// by them), most recently updated first.
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// ApplyMessage folds a freshly stored message into the conversation in a
	// single field-level update: last message snapshot, recipient counter
	// incremented, sender counter zeroed, both participants removed from the
	// deleted set. Returns the updated conversation.
	ApplyMessage(ctx context.Context, id ConversationID, msg *Message) (*Conversation, error)
	ZeroUnread(ctx context.Context, id ConversationID, userID string) error
	// SoftDelete hides the thread for one user and zeroes their counter.
	SoftDelete(ctx context.Context, id ConversationID, userID string) error
	// Restore clears the user's soft-delete mark.
	Restore(ctx context.Context, id ConversationID, userID string) error
}

// MessageRepository is the append-only per-conversation message log.
type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	// ListBefore returns up to limit messages strictly older than before (the
	// zero time means "from the latest"), in ascending creation order.
	ListBefore(ctx context.Context, id ConversationID, before time.Time, limit int) ([]*Message, error)
	// MarkRead stamps ReadAt on the user's unread messages in the
	// conversation and returns the affected ids. Pending notifications on
	// those messages are cancelled explicitly, not just filtered out later.
	MarkRead(ctx context.Context, id ConversationID, recipientID string, at time.Time) ([]MessageID, error)
	// DueNotifications selects messages whose notification is scheduled at or
	// before now and neither sent, cancelled, nor read, oldest schedule first.
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	// MarkNotificationSent records a successful delivery. The write must
	// re-check that the message is still unread, unsent and uncancelled.
	MarkNotificationSent(ctx context.Context, id MessageID, at time.Time) error
	// CancelNotification permanently excludes the message from delivery.
	CancelNotification(ctx context.Context, id MessageID, at time.Time) error
	// RecordNotificationFailure increments the attempt counter, stores the
	// error and pushes the schedule forward to nextAttempt.
	RecordNotificationFailure(ctx context.Context, id MessageID, attemptAt, nextAttempt time.Time, sendErr string) error
}

// BlockRegistry stores directed block edges between users.
type BlockRegistry interface {
	Upsert(ctx context.Context, rel BlockRelation) error
	Delete(ctx context.Context, blocker, blocked string) error
	// Status reports both edge directions between the user and the peer.
	Status(ctx context.Context, userID, peerID string) (BlockStatus, error)
}

// PresenceRepository persists the last-seen timestamp written on
// online/offline transitions; live presence itself is in-memory only.
type PresenceRepository interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}
