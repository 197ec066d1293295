package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/app/notify"
	domainchat "huddle/internal/domain/chat"
	domainuser "huddle/internal/domain/user"
	"huddle/internal/infra/storage/memory"
)

type stubDirectory struct {
	users map[string]*domainuser.User
}

func (d stubDirectory) ByID(_ context.Context, id string) (*domainuser.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return u, nil
}

type failingDirectory struct {
	err error
}

func (d failingDirectory) ByID(context.Context, string) (*domainuser.User, error) {
	return nil, d.err
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *recordingMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *recordingMailer) deliveries() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func insertDue(t *testing.T, repo *memory.MessageRepository, sender, recipient, body string, at time.Time) domainchat.MessageID {
	t.Helper()
	scheduled := at
	msg := &domainchat.Message{
		ID:             domainchat.MessageID(uuid.NewString()),
		ConversationID: domainchat.ConversationID(uuid.NewString()),
		SenderID:       sender,
		RecipientID:    recipient,
		Body:           body,
		CreatedAt:      at,
		Notification:   domainchat.Notification{ScheduledFor: &scheduled},
	}
	require.NoError(t, repo.Insert(context.Background(), msg))
	return msg.ID
}

func newScheduler(messages *memory.MessageRepository, mailer *recordingMailer) *notify.Scheduler {
	return &notify.Scheduler{
		Messages: messages,
		Users: stubDirectory{users: map[string]*domainuser.User{
			"alice": {ID: "alice", Email: "alice@example.com", Name: "Alice"},
			"bob":   {ID: "bob", Email: "bob@example.com", Name: "Bob"},
		}},
		Mailer:  mailer,
		Backoff: 5 * time.Minute,
	}
}

func TestProcessDueSendsEmailForUnreadMessage(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)

	id := insertDue(t, messages, "alice", "bob", "are we still on?", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.ProcessDue(context.Background()))

	sent := mailer.deliveries()
	require.Len(t, sent, 1)
	assert.Equal(t, "bob@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Alice")
	assert.Contains(t, sent[0].Body, "are we still on?")

	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.NotNil(t, stored.Notification.EmailSentAt)
	assert.Nil(t, stored.Notification.ScheduledFor, "sent notifications leave the due queue")
}

func TestProcessDueSkipsReadMessages(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	_, err := messages.MarkRead(context.Background(), mustConversation(t, messages, id), "bob", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, s.ProcessDue(context.Background()))
	assert.Empty(t, mailer.deliveries())
}

func TestProcessDueFailureSchedulesRetry(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{fail: errors.New("smtp relay down")}
	s := newScheduler(messages, mailer)

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	before := time.Now().UTC()
	require.NoError(t, s.ProcessDue(context.Background()))

	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.Equal(t, 1, stored.Notification.EmailAttempts)
	assert.Equal(t, "smtp relay down", stored.Notification.EmailError)
	require.NotNil(t, stored.Notification.ScheduledFor)
	assert.True(t, stored.Notification.ScheduledFor.After(before.Add(4*time.Minute)),
		"next attempt is pushed out by the backoff")
	assert.Nil(t, stored.Notification.EmailSentAt)

	// A run before the backoff elapses must not retry.
	require.NoError(t, s.ProcessDue(context.Background()))
	stored, _ = messages.ByID(id)
	assert.Equal(t, 1, stored.Notification.EmailAttempts)
}

func TestProcessDueRetrySucceedsAfterBackoff(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{fail: errors.New("smtp relay down")}
	s := newScheduler(messages, mailer)
	s.Backoff = time.Millisecond

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.ProcessDue(context.Background()))

	mailer.mu.Lock()
	mailer.fail = nil
	mailer.mu.Unlock()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, s.ProcessDue(context.Background()))
	require.Len(t, mailer.deliveries(), 1)
	stored, _ := messages.ByID(id)
	assert.NotNil(t, stored.Notification.EmailSentAt)
}

func TestProcessDueCancelsWhenRecipientHasNoEmail(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)
	s.Users = stubDirectory{users: map[string]*domainuser.User{
		"bob": {ID: "bob"},
	}}

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.ProcessDue(context.Background()))

	assert.Empty(t, mailer.deliveries())
	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.NotNil(t, stored.Notification.EmailCancelledAt)
	assert.Nil(t, stored.Notification.ScheduledFor)
}

func TestProcessDueCancelsWhenRecipientUnknown(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)
	s.Users = stubDirectory{users: map[string]*domainuser.User{}}

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.ProcessDue(context.Background()))

	assert.Empty(t, mailer.deliveries())
	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.NotNil(t, stored.Notification.EmailCancelledAt)
	assert.Nil(t, stored.Notification.ScheduledFor)
}

func TestProcessDueKeepsScheduleOnDirectoryOutage(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)
	s.Users = failingDirectory{err: errors.New("identity service: connection refused")}

	scheduled := time.Now().UTC().Add(-time.Minute)
	id := insertDue(t, messages, "alice", "bob", "hello", scheduled)
	require.NoError(t, s.ProcessDue(context.Background()))

	assert.Empty(t, mailer.deliveries())
	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.Nil(t, stored.Notification.EmailCancelledAt, "a directory outage must not cancel the notification")
	require.NotNil(t, stored.Notification.ScheduledFor)
	assert.True(t, stored.Notification.ScheduledFor.Equal(scheduled), "the message stays due for the next cycle")
	assert.Equal(t, 0, stored.Notification.EmailAttempts)
}

func TestProcessDueCancelsAfterAttemptCeiling(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{fail: errors.New("smtp relay down")}
	s := newScheduler(messages, mailer)
	s.Backoff = time.Nanosecond
	s.MaxAttempts = 2

	id := insertDue(t, messages, "alice", "bob", "hello", time.Now().UTC().Add(-time.Minute))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ProcessDue(context.Background()))
		time.Sleep(time.Millisecond)
	}

	stored, ok := messages.ByID(id)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Notification.EmailAttempts)
	assert.NotNil(t, stored.Notification.EmailCancelledAt)
}

func TestProcessDueRespectsBatchSize(t *testing.T) {
	messages := memory.NewMessageRepository()
	mailer := &recordingMailer{}
	s := newScheduler(messages, mailer)
	s.BatchSize = 2

	at := time.Now().UTC().Add(-time.Minute)
	insertDue(t, messages, "alice", "bob", "one", at)
	insertDue(t, messages, "alice", "bob", "two", at.Add(time.Second))
	insertDue(t, messages, "alice", "bob", "three", at.Add(2*time.Second))

	require.NoError(t, s.ProcessDue(context.Background()))
	assert.Len(t, mailer.deliveries(), 2)

	require.NoError(t, s.ProcessDue(context.Background()))
	assert.Len(t, mailer.deliveries(), 3)
}

func mustConversation(t *testing.T, repo *memory.MessageRepository, id domainchat.MessageID) domainchat.ConversationID {
	t.Helper()
	msg, ok := repo.ByID(id)
	require.True(t, ok)
	return msg.ConversationID
}
