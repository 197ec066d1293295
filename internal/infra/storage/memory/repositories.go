// Package memory provides in-memory store implementations used by tests and
// by the memory store mode for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainchat "huddle/internal/domain/chat"
)

// ConversationRepository is a mutex-guarded map keyed by participant key.
type ConversationRepository struct {
	mu    sync.RWMutex
	byKey map[string]*domainchat.Conversation
	byID  map[domainchat.ConversationID]*domainchat.Conversation
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byKey: make(map[string]*domainchat.Conversation),
		byID:  make(map[domainchat.ConversationID]*domainchat.Conversation),
	}
}

func (r *ConversationRepository) GetOrCreate(ctx context.Context, a, b string) (*domainchat.Conversation, error) {
	conv, err := domainchat.NewConversation(a, b)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[conv.ParticipantKey]; ok {
		return cloneConversation(existing), nil
	}
	conv.ID = domainchat.ConversationID(uuid.NewString())
	r.byKey[conv.ParticipantKey] = conv
	r.byID[conv.ID] = conv
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ByParticipants(ctx context.Context, a, b string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byKey[domainchat.ParticipantKey(a, b)]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Conversation
	for _, conv := range r.byID {
		if !conv.HasParticipant(userID) || conv.DeletedBy(userID) {
			continue
		}
		out = append(out, cloneConversation(conv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *ConversationRepository) ApplyMessage(ctx context.Context, id domainchat.ConversationID, msg *domainchat.Message) (*domainchat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	conv.LastMessage = &domainchat.LastMessage{Body: msg.Body, SenderID: msg.SenderID, SentAt: msg.CreatedAt}
	conv.UnreadCounts.Increment(msg.RecipientID)
	conv.UnreadCounts.Zero(msg.SenderID)
	conv.DeletedFor = nil
	conv.UpdatedAt = msg.CreatedAt
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ZeroUnread(ctx context.Context, id domainchat.ConversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	conv.UnreadCounts.Zero(userID)
	return nil
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, id domainchat.ConversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	if !conv.DeletedBy(userID) {
		conv.DeletedFor = append(conv.DeletedFor, userID)
	}
	conv.UnreadCounts.Zero(userID)
	return nil
}

func (r *ConversationRepository) Restore(ctx context.Context, id domainchat.ConversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	kept := conv.DeletedFor[:0]
	for _, d := range conv.DeletedFor {
		if d != userID {
			kept = append(kept, d)
		}
	}
	conv.DeletedFor = kept
	return nil
}

// MessageRepository keeps the append-only log per conversation.
type MessageRepository struct {
	mu    sync.RWMutex
	items map[domainchat.MessageID]*domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{items: make(map[domainchat.MessageID]*domainchat.Message)}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == "" {
		msg.ID = domainchat.MessageID(uuid.NewString())
	}
	r.items[msg.ID] = cloneMessage(msg)
	return nil
}

func (r *MessageRepository) ListBefore(ctx context.Context, id domainchat.ConversationID, before time.Time, limit int) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domainchat.Message
	for _, msg := range r.items {
		if msg.ConversationID != id {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		matched = append(matched, cloneMessage(msg))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, recipientID string, at time.Time) ([]domainchat.MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected []*domainchat.Message
	for _, msg := range r.items {
		if msg.ConversationID != id || msg.RecipientID != recipientID || msg.ReadAt != nil {
			continue
		}
		readAt := at
		msg.ReadAt = &readAt
		if msg.Notification.EmailSentAt == nil && msg.Notification.EmailCancelledAt == nil {
			cancelled := at
			msg.Notification.EmailCancelledAt = &cancelled
			msg.Notification.ScheduledFor = nil
		}
		affected = append(affected, msg)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].CreatedAt.Before(affected[j].CreatedAt) })
	ids := make([]domainchat.MessageID, 0, len(affected))
	for _, msg := range affected {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (r *MessageRepository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]*domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []*domainchat.Message
	for _, msg := range r.items {
		n := msg.Notification
		if n.ScheduledFor == nil || n.ScheduledFor.After(now) {
			continue
		}
		if n.EmailSentAt != nil || n.EmailCancelledAt != nil || msg.ReadAt != nil {
			continue
		}
		due = append(due, cloneMessage(msg))
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Notification.ScheduledFor.Before(*due[j].Notification.ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *MessageRepository) MarkNotificationSent(ctx context.Context, id domainchat.MessageID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.items[id]
	if !ok || !deliverable(msg) {
		return nil
	}
	sent := at
	msg.Notification.EmailSentAt = &sent
	msg.Notification.ScheduledFor = nil
	msg.Notification.EmailError = ""
	return nil
}

func (r *MessageRepository) CancelNotification(ctx context.Context, id domainchat.MessageID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.items[id]
	if !ok || msg.Notification.EmailSentAt != nil || msg.Notification.EmailCancelledAt != nil {
		return nil
	}
	cancelled := at
	msg.Notification.EmailCancelledAt = &cancelled
	msg.Notification.ScheduledFor = nil
	return nil
}

func (r *MessageRepository) RecordNotificationFailure(ctx context.Context, id domainchat.MessageID, attemptAt, nextAttempt time.Time, sendErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.items[id]
	if !ok || !deliverable(msg) {
		return nil
	}
	last := attemptAt
	next := nextAttempt
	msg.Notification.EmailAttempts++
	msg.Notification.EmailLastAttemptAt = &last
	msg.Notification.ScheduledFor = &next
	msg.Notification.EmailError = sendErr
	return nil
}

// ByID exposes a message for assertions in tests.
func (r *MessageRepository) ByID(id domainchat.MessageID) (*domainchat.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.items[id]
	if !ok {
		return nil, false
	}
	return cloneMessage(msg), true
}

// deliverable mirrors the write-time guard: unread, unsent, uncancelled.
func deliverable(msg *domainchat.Message) bool {
	return msg.ReadAt == nil && msg.Notification.EmailSentAt == nil && msg.Notification.EmailCancelledAt == nil
}

// BlockRegistry stores directed edges keyed by (blocker, blocked).
type BlockRegistry struct {
	mu    sync.RWMutex
	edges map[[2]string]domainchat.BlockRelation
}

func NewBlockRegistry() *BlockRegistry {
	return &BlockRegistry{edges: make(map[[2]string]domainchat.BlockRelation)}
}

func (r *BlockRegistry) Upsert(ctx context.Context, rel domainchat.BlockRelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[[2]string{rel.Blocker, rel.Blocked}] = rel
	return nil
}

func (r *BlockRegistry) Delete(ctx context.Context, blocker, blocked string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, [2]string{blocker, blocked})
	return nil
}

func (r *BlockRegistry) Status(ctx context.Context, userID, peerID string) (domainchat.BlockStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, byMe := r.edges[[2]string{userID, peerID}]
	_, byPeer := r.edges[[2]string{peerID, userID}]
	return domainchat.BlockStatus{ByMe: byMe, ByPeer: byPeer}, nil
}

// PresenceRepository stores last-seen timestamps.
type PresenceRepository struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewPresenceRepository() *PresenceRepository {
	return &PresenceRepository{seen: make(map[string]time.Time)}
}

func (r *PresenceRepository) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[userID] = at
	return nil
}

func (r *PresenceRepository) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen[userID], nil
}

func cloneConversation(c *domainchat.Conversation) *domainchat.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.DeletedFor = append([]string(nil), c.DeletedFor...)
	out.UnreadCounts = make(domainchat.UnreadCounts, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		out.UnreadCounts[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func cloneMessage(m *domainchat.Message) *domainchat.Message {
	out := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	out.Notification = cloneNotification(m.Notification)
	return &out
}

func cloneNotification(n domainchat.Notification) domainchat.Notification {
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	out := n
	out.ScheduledFor = copyTime(n.ScheduledFor)
	out.EmailSentAt = copyTime(n.EmailSentAt)
	out.EmailCancelledAt = copyTime(n.EmailCancelledAt)
	out.EmailLastAttemptAt = copyTime(n.EmailLastAttemptAt)
	return out
}
