package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appchat "huddle/internal/app/chat"
	domainchat "huddle/internal/domain/chat"
	"huddle/internal/infra/storage/memory"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []appchat.Event
}

func (p *capturingPublisher) Publish(_ context.Context, evt appchat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturingPublisher) ofType(t appchat.EventType) []appchat.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []appchat.Event
	for _, evt := range p.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

type fixture struct {
	service       *appchat.Service
	conversations *memory.ConversationRepository
	messages      *memory.MessageRepository
	blocks        *memory.BlockRegistry
	events        *capturingPublisher
}

func newFixture() fixture {
	conversations := memory.NewConversationRepository()
	messages := memory.NewMessageRepository()
	blocks := memory.NewBlockRegistry()
	events := &capturingPublisher{}
	return fixture{
		service: &appchat.Service{
			Conversations: conversations,
			Messages:      messages,
			Blocks:        blocks,
			Events:        events,
		},
		conversations: conversations,
		messages:      messages,
		blocks:        blocks,
		events:        events,
	}
}

func TestParticipantKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, domainchat.ParticipantKey("alice", "bob"), domainchat.ParticipantKey("bob", "alice"))
	assert.Equal(t, "alice:bob", domainchat.ParticipantKey("bob", "alice"))
}

func TestConversationWithResolvesSameThreadBothDirections(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first, err := fx.service.ConversationWith(ctx, "alice", "bob", time.Time{}, 0)
	require.NoError(t, err)
	second, err := fx.service.ConversationWith(ctx, "bob", "alice", time.Time{}, 0)
	require.NoError(t, err)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	assert.Equal(t, "bob", first.Conversation.PeerID)
	assert.Equal(t, "alice", second.Conversation.PeerID)
}

func TestConversationWithSelfIsRejected(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.ConversationWith(context.Background(), "alice", "alice", time.Time{}, 0)
	assert.ErrorIs(t, err, domainchat.ErrSelfConversation)
}

func TestSendUpdatesUnreadAndLastMessage(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	result, err := fx.service.Send(ctx, "alice", "bob", "hi bob")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", result.Message.Body)
	assert.Equal(t, "alice", result.Message.SenderID)
	assert.Equal(t, "bob", result.Message.RecipientID)
	assert.Zero(t, result.Conversation.UnreadCount, "sender side stays read")

	_, err = fx.service.Send(ctx, "alice", "bob", "you there?")
	require.NoError(t, err)

	bobView, err := fx.service.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, 2, bobView[0].UnreadCount)
	require.NotNil(t, bobView[0].LastMessage)
	assert.Equal(t, "you there?", bobView[0].LastMessage.Body)
	assert.Equal(t, "alice", bobView[0].LastMessage.SenderID)
}

func TestSendTrimsAndValidatesBody(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	result, err := fx.service.Send(ctx, "alice", "bob", "  padded  ")
	require.NoError(t, err)
	assert.Equal(t, "padded", result.Message.Body)

	_, err = fx.service.Send(ctx, "alice", "bob", "   ")
	assert.ErrorIs(t, err, domainchat.ErrEmptyBody)

	long := make([]rune, domainchat.MaxBodyLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = fx.service.Send(ctx, "alice", "bob", string(long))
	assert.ErrorIs(t, err, domainchat.ErrBodyTooLong)
}

func TestSendPublishesEventsToBothParticipants(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)

	newEvents := fx.events.ofType(appchat.EventMessageNew)
	require.Len(t, newEvents, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, newEvents[0].Users)

	updates := fx.events.ofType(appchat.EventConversationUpdate)
	require.Len(t, updates, 2)
	var targets []string
	for _, evt := range updates {
		require.Len(t, evt.Users, 1)
		targets = append(targets, evt.Users[0])
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, targets)
}

func TestSendBlockedByCallerIsRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.service.Block(ctx, "alice", "bob", "spam"))
	_, err := fx.service.Send(ctx, "alice", "bob", "hello")
	assert.ErrorIs(t, err, domainchat.ErrBlockedByUser)
}

func TestSendBlockedByPeerIsRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "before the block")
	require.NoError(t, err)

	require.NoError(t, fx.service.Block(ctx, "bob", "alice", ""))
	_, err = fx.service.Send(ctx, "alice", "bob", "hello")
	assert.ErrorIs(t, err, domainchat.ErrBlockedByPeer)

	// Blocking cuts off sending only; prior history stays readable to both.
	page, err := fx.service.History(ctx, "bob", domainchat.ConversationID(sent.Conversation.ID), time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestUnblockRestoresSending(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.service.Block(ctx, "bob", "alice", ""))
	_, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.ErrorIs(t, err, domainchat.ErrBlockedByPeer)

	require.NoError(t, fx.service.Unblock(ctx, "bob", "alice"))
	_, err = fx.service.Send(ctx, "alice", "bob", "hello")
	assert.NoError(t, err)
}

func TestBlockSelfIsRejected(t *testing.T) {
	fx := newFixture()
	err := fx.service.Block(context.Background(), "alice", "alice", "")
	assert.ErrorIs(t, err, domainchat.ErrSelfBlock)
}

func TestBlockZeroesBlockerUnread(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.Send(ctx, "bob", "alice", "one")
	require.NoError(t, err)
	_, err = fx.service.Send(ctx, "bob", "alice", "two")
	require.NoError(t, err)

	require.NoError(t, fx.service.Block(ctx, "alice", "bob", ""))

	aliceView, err := fx.service.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, aliceView, 1)
	assert.Zero(t, aliceView[0].UnreadCount)
}

func TestMarkReadStampsMessagesAndZeroesCounter(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	convID := domainchat.ConversationID(sent.Conversation.ID)

	result, err := fx.service.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Equal(t, []string{sent.Message.ID}, result.MessageIDs)

	stored, ok := fx.messages.ByID(domainchat.MessageID(sent.Message.ID))
	require.True(t, ok)
	require.NotNil(t, stored.ReadAt)
	assert.NotNil(t, stored.Notification.EmailCancelledAt, "reading cancels the pending email")
	assert.Nil(t, stored.Notification.ScheduledFor)

	bobView, err := fx.service.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Zero(t, bobView[0].UnreadCount)

	readEvents := fx.events.ofType(appchat.EventMessageRead)
	require.Len(t, readEvents, 1)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	convID := domainchat.ConversationID(sent.Conversation.ID)

	first, err := fx.service.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	require.Len(t, first.MessageIDs, 1)

	second, err := fx.service.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Empty(t, second.MessageIDs)
}

func TestMarkReadOnlyAffectsCallerMessages(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	toBob, err := fx.service.Send(ctx, "alice", "bob", "for bob")
	require.NoError(t, err)
	toAlice, err := fx.service.Send(ctx, "bob", "alice", "for alice")
	require.NoError(t, err)
	convID := domainchat.ConversationID(toBob.Conversation.ID)

	result, err := fx.service.MarkRead(ctx, "bob", convID)
	require.NoError(t, err)
	assert.Equal(t, []string{toBob.Message.ID}, result.MessageIDs)

	unread, ok := fx.messages.ByID(domainchat.MessageID(toAlice.Message.ID))
	require.True(t, ok)
	assert.Nil(t, unread.ReadAt)
}

func TestHistoryHiddenFromNonParticipants(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "secret")
	require.NoError(t, err)

	_, err = fx.service.History(ctx, "mallory", domainchat.ConversationID(sent.Conversation.ID), time.Time{}, 0)
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)

	_, err = fx.service.History(ctx, "alice", domainchat.ConversationID(uuid.NewString()), time.Time{}, 0)
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestHistoryPaginationHasNoOverlapOrGaps(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	conv, err := fx.conversations.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	total := 45
	for i := 0; i < total; i++ {
		msg := &domainchat.Message{
			ID:             domainchat.MessageID(uuid.NewString()),
			ConversationID: conv.ID,
			SenderID:       "alice",
			RecipientID:    "bob",
			Body:           "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, fx.messages.Insert(ctx, msg))
	}

	var collected []time.Time
	before := time.Time{}
	for {
		page, err := fx.service.History(ctx, "bob", conv.ID, before, appchat.MaxPageSize)
		require.NoError(t, err)
		if len(page.Items) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page.Items), appchat.MaxPageSize)
		for i := 1; i < len(page.Items); i++ {
			assert.True(t, page.Items[i-1].CreatedAt.Before(page.Items[i].CreatedAt),
				"page items stay in chronological order")
		}
		for _, item := range page.Items {
			collected = append(collected, item.CreatedAt)
		}
		next, err := time.Parse(time.RFC3339Nano, page.NextBefore)
		require.NoError(t, err)
		before = next
	}

	require.Len(t, collected, total, "every message appears exactly once")
	seen := make(map[time.Time]bool, len(collected))
	for _, at := range collected {
		assert.False(t, seen[at], "no message repeats across pages")
		seen[at] = true
	}
}

func TestHistoryLimitIsClamped(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	conv, err := fx.conversations.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		require.NoError(t, fx.messages.Insert(ctx, &domainchat.Message{
			ConversationID: conv.ID,
			SenderID:       "alice",
			RecipientID:    "bob",
			Body:           "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	page, err := fx.service.History(ctx, "bob", conv.ID, time.Time{}, 500)
	require.NoError(t, err)
	assert.Len(t, page.Items, appchat.MaxPageSize)
}

func TestDeleteHidesThreadForCallerOnly(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	convID := domainchat.ConversationID(sent.Conversation.ID)

	require.NoError(t, fx.service.Delete(ctx, "bob", convID))

	bobView, err := fx.service.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bobView)

	aliceView, err := fx.service.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, aliceView, 1)
}

func TestDeletedThreadResumesOnNextMessage(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)
	convID := domainchat.ConversationID(sent.Conversation.ID)

	require.NoError(t, fx.service.Delete(ctx, "bob", convID))

	_, err = fx.service.Send(ctx, "alice", "bob", "still there?")
	require.NoError(t, err)

	bobView, err := fx.service.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, string(convID), bobView[0].ID, "same thread, not a new one")
	assert.Equal(t, 1, bobView[0].UnreadCount, "pre-delete backlog was marked read")
}

func TestDeleteRejectsNonParticipant(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	sent, err := fx.service.Send(ctx, "alice", "bob", "hello")
	require.NoError(t, err)

	err = fx.service.Delete(ctx, "mallory", domainchat.ConversationID(sent.Conversation.ID))
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.Send(ctx, "alice", "bob", "to bob")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = fx.service.Send(ctx, "alice", "carol", "to carol")
	require.NoError(t, err)

	view, err := fx.service.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.Equal(t, "carol", view[0].PeerID)
	assert.Equal(t, "bob", view[1].PeerID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, appchat.DefaultPageSize, appchat.ClampLimit(0))
	assert.Equal(t, appchat.DefaultPageSize, appchat.ClampLimit(-3))
	assert.Equal(t, 5, appchat.ClampLimit(5))
	assert.Equal(t, appchat.MaxPageSize, appchat.ClampLimit(1000))
}
