package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"huddle/internal/app/dto"
	domainchat "huddle/internal/domain/chat"
)

const (
	// DefaultPageSize is applied when the caller omits a limit.
	DefaultPageSize = 20
	// MaxPageSize clamps caller-provided limits.
	MaxPageSize = 20
)

// Service composes the stores into the messaging operations: send, history,
// read, soft-delete and blocking. It owns no state beyond its dependencies.
type Service struct {
	Conversations domainchat.ConversationRepository
	Messages      domainchat.MessageRepository
	Blocks        domainchat.BlockRegistry
	Events        Publisher
	Logger        *slog.Logger
}

// ThreadPage bundles a conversation view with one page of its history.
type ThreadPage struct {
	Conversation dto.Conversation `json:"conversation"`
	Messages     dto.MessageList  `json:"messages"`
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	Message      dto.Message      `json:"message"`
	Conversation dto.Conversation `json:"conversation"`
}

// ReadResult reports which messages a read receipt covered.
type ReadResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// ClampLimit normalizes a requested page size into [1, MaxPageSize].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// ListConversations returns the user's visible threads, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]dto.Conversation, error) {
	convs, err := s.Conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, dto.FromConversation(c, userID))
	}
	return out, nil
}

// ConversationWith resolves (or lazily creates) the thread between the
// current user and the target and returns its first page. Accessing a thread
// the user previously soft-deleted resumes it.
func (s *Service) ConversationWith(ctx context.Context, current, target string, before time.Time, limit int) (ThreadPage, error) {
	conv, err := s.ensureConversation(ctx, current, target)
	if err != nil {
		return ThreadPage{}, err
	}
	msgs, err := s.Messages.ListBefore(ctx, conv.ID, before, ClampLimit(limit))
	if err != nil {
		return ThreadPage{}, err
	}
	return ThreadPage{
		Conversation: dto.FromConversation(conv, current),
		Messages:     messagePage(msgs),
	}, nil
}

// History returns one page of an existing conversation the user belongs to.
func (s *Service) History(ctx context.Context, current string, id domainchat.ConversationID, before time.Time, limit int) (dto.MessageList, error) {
	conv, err := s.participantConversation(ctx, current, id)
	if err != nil {
		return dto.MessageList{}, err
	}
	msgs, err := s.Messages.ListBefore(ctx, conv.ID, before, ClampLimit(limit))
	if err != nil {
		return dto.MessageList{}, err
	}
	return messagePage(msgs), nil
}

// Send validates and stores a message, folds it into the conversation and
// pushes the realtime events. The out-of-band notification is left to the
// background scheduler; the request never waits on email delivery.
func (s *Service) Send(ctx context.Context, current, target, body string) (SendResult, error) {
	body, err := domainchat.ValidateBody(body)
	if err != nil {
		return SendResult{}, err
	}
	conv, err := s.ensureConversation(ctx, current, target)
	if err != nil {
		return SendResult{}, err
	}
	status, err := s.Blocks.Status(ctx, current, target)
	if err != nil {
		return SendResult{}, err
	}
	if status.ByMe {
		return SendResult{}, domainchat.ErrBlockedByUser
	}
	if status.ByPeer {
		return SendResult{}, domainchat.ErrBlockedByPeer
	}

	msg, err := domainchat.NewMessage(conv.ID, current, target, body)
	if err != nil {
		return SendResult{}, err
	}
	msg.ID = domainchat.MessageID(uuid.NewString())
	if err := s.Messages.Insert(ctx, msg); err != nil {
		return SendResult{}, err
	}
	updated, err := s.Conversations.ApplyMessage(ctx, conv.ID, msg)
	if err != nil {
		return SendResult{}, err
	}

	view := dto.FromMessage(msg)
	s.publish(ctx, Event{
		Type:    EventMessageNew,
		Users:   updated.Participants,
		Payload: MessageNewPayload{Message: view, ConversationID: string(updated.ID)},
	})
	for _, p := range updated.Participants {
		s.publish(ctx, Event{
			Type:    EventConversationUpdate,
			Users:   []string{p},
			Payload: dto.FromConversation(updated, p),
		})
	}
	return SendResult{Message: view, Conversation: dto.FromConversation(updated, current)}, nil
}

// MarkRead stamps ReadAt on all of the caller's unread messages in the
// conversation, zeroes their counter and notifies both participants.
func (s *Service) MarkRead(ctx context.Context, current string, id domainchat.ConversationID) (ReadResult, error) {
	conv, err := s.participantConversation(ctx, current, id)
	if err != nil {
		return ReadResult{}, err
	}
	now := time.Now().UTC()
	ids, err := s.Messages.MarkRead(ctx, conv.ID, current, now)
	if err != nil {
		return ReadResult{}, err
	}
	if err := s.Conversations.ZeroUnread(ctx, conv.ID, current); err != nil {
		return ReadResult{}, err
	}
	result := ReadResult{ConversationID: string(conv.ID), MessageIDs: messageIDs(ids), ReadAt: now}
	s.publish(ctx, Event{
		Type:  EventMessageRead,
		Users: conv.Participants,
		Payload: MessageReadPayload{
			ConversationID: result.ConversationID,
			MessageIDs:     result.MessageIDs,
			ReaderID:       current,
			ReadAt:         now,
		},
	})
	return result, nil
}

// Delete hides the conversation for the caller only. The log and the other
// participant's view are untouched; the thread resumes on the next message.
func (s *Service) Delete(ctx context.Context, current string, id domainchat.ConversationID) error {
	conv, err := s.participantConversation(ctx, current, id)
	if err != nil {
		return err
	}
	if _, err := s.Messages.MarkRead(ctx, conv.ID, current, time.Now().UTC()); err != nil {
		return err
	}
	return s.Conversations.SoftDelete(ctx, conv.ID, current)
}

// Block records a directed block edge and zeroes the blocker's own unread
// count in the pair's conversation, when one exists.
func (s *Service) Block(ctx context.Context, current, target, reason string) error {
	if current == target {
		return domainchat.ErrSelfBlock
	}
	rel := domainchat.BlockRelation{
		Blocker:   current,
		Blocked:   target,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Blocks.Upsert(ctx, rel); err != nil {
		return err
	}
	conv, err := s.Conversations.ByParticipants(ctx, current, target)
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil
		}
		return err
	}
	return s.Conversations.ZeroUnread(ctx, conv.ID, current)
}

// Unblock removes the directed edge. Removing an absent edge is a no-op.
func (s *Service) Unblock(ctx context.Context, current, target string) error {
	return s.Blocks.Delete(ctx, current, target)
}

func (s *Service) ensureConversation(ctx context.Context, current, target string) (*domainchat.Conversation, error) {
	conv, err := s.Conversations.GetOrCreate(ctx, current, target)
	if err != nil {
		return nil, err
	}
	if conv.DeletedBy(current) {
		if err := s.Conversations.Restore(ctx, conv.ID, current); err != nil {
			return nil, err
		}
		conv.DeletedFor = without(conv.DeletedFor, current)
	}
	return conv, nil
}

// participantConversation loads a conversation and hides its existence from
// non-participants.
func (s *Service) participantConversation(ctx context.Context, current string, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(current) {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv, nil
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(ctx, evt)
}

func messagePage(msgs []*domainchat.Message) dto.MessageList {
	page := dto.MessageList{Items: dto.FromMessages(msgs)}
	if len(msgs) > 0 {
		page.NextBefore = msgs[0].CreatedAt.Format(time.RFC3339Nano)
	}
	return page
}

func messageIDs(ids []domainchat.MessageID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func without(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
