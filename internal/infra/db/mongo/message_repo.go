package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "huddle/internal/domain/chat"
)

// MessageRepository is the append-only message log. Notification updates all
// carry a guard filter re-checking read/sent/cancelled state at write time.
type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	col := db.Collection("messages")
	pageIdx := mongo.IndexModel{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}}
	dueIdx := mongo.IndexModel{Keys: bson.D{{Key: "notification_scheduled_for", Value: 1}}}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{pageIdx, dueIdx})
	return &MessageRepository{col: col}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	_, err := r.col.InsertOne(ctx, newMessageDocument(msg))
	return err
}

func (r *MessageRepository) ListBefore(ctx context.Context, id domainchat.ConversationID, before time.Time, limit int) ([]*domainchat.Message, error) {
	filter := bson.M{"conversation_id": string(id)}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var page []*domainchat.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		page = append(page, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	// Query order is newest-first for the index; callers get chronological.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id domainchat.ConversationID, recipientID string, at time.Time) ([]domainchat.MessageID, error) {
	filter := bson.M{"conversation_id": string(id), "recipient_id": recipientID, "read_at": nil}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var refs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &refs); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]domainchat.MessageID, 0, len(refs))
	raw := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, domainchat.MessageID(ref.ID))
		raw = append(raw, ref.ID)
	}
	update := bson.M{"$set": bson.M{"read_at": at}}
	if _, err := r.col.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": raw}, "read_at": nil}, update); err != nil {
		return nil, err
	}
	// Reading cancels any pending notification on the record itself, so the
	// state is auditable instead of inferred from query exclusion.
	cancelFilter := bson.M{
		"_id":                             bson.M{"$in": raw},
		"notification_email_sent_at":      nil,
		"notification_email_cancelled_at": nil,
	}
	cancelUpdate := bson.M{
		"$set":   bson.M{"notification_email_cancelled_at": at},
		"$unset": bson.M{"notification_scheduled_for": ""},
	}
	if _, err := r.col.UpdateMany(ctx, cancelFilter, cancelUpdate); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MessageRepository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]*domainchat.Message, error) {
	filter := bson.M{
		"notification_scheduled_for":      bson.M{"$lte": now},
		"notification_email_sent_at":      nil,
		"notification_email_cancelled_at": nil,
		"read_at":                         nil,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "notification_scheduled_for", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var due []*domainchat.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		due = append(due, doc.toDomain())
	}
	return due, cursor.Err()
}

func (r *MessageRepository) MarkNotificationSent(ctx context.Context, id domainchat.MessageID, at time.Time) error {
	update := bson.M{
		"$set":   bson.M{"notification_email_sent_at": at},
		"$unset": bson.M{"notification_scheduled_for": "", "notification_email_error": ""},
	}
	_, err := r.col.UpdateOne(ctx, notificationGuard(id), update)
	return err
}

func (r *MessageRepository) CancelNotification(ctx context.Context, id domainchat.MessageID, at time.Time) error {
	filter := bson.M{
		"_id":                             string(id),
		"notification_email_sent_at":      nil,
		"notification_email_cancelled_at": nil,
	}
	update := bson.M{
		"$set":   bson.M{"notification_email_cancelled_at": at},
		"$unset": bson.M{"notification_scheduled_for": ""},
	}
	_, err := r.col.UpdateOne(ctx, filter, update)
	return err
}

func (r *MessageRepository) RecordNotificationFailure(ctx context.Context, id domainchat.MessageID, attemptAt, nextAttempt time.Time, sendErr string) error {
	update := bson.M{
		"$inc": bson.M{"notification_email_attempts": 1},
		"$set": bson.M{
			"notification_email_last_attempt_at": attemptAt,
			"notification_scheduled_for":         nextAttempt,
			"notification_email_error":           sendErr,
		},
	}
	_, err := r.col.UpdateOne(ctx, notificationGuard(id), update)
	return err
}

// notificationGuard filters out messages read, delivered or cancelled since
// the scheduler selected them; racing reads never produce a second email.
func notificationGuard(id domainchat.MessageID) bson.M {
	return bson.M{
		"_id":                             string(id),
		"read_at":                         nil,
		"notification_email_sent_at":      nil,
		"notification_email_cancelled_at": nil,
	}
}

type messageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversation_id"`
	SenderID       string     `bson:"sender_id"`
	RecipientID    string     `bson:"recipient_id"`
	Body           string     `bson:"body"`
	CreatedAt      time.Time  `bson:"created_at"`
	ReadAt         *time.Time `bson:"read_at,omitempty"`

	NotificationScheduledFor       *time.Time `bson:"notification_scheduled_for,omitempty"`
	NotificationEmailSentAt        *time.Time `bson:"notification_email_sent_at,omitempty"`
	NotificationEmailCancelledAt   *time.Time `bson:"notification_email_cancelled_at,omitempty"`
	NotificationEmailAttempts      int        `bson:"notification_email_attempts"`
	NotificationEmailLastAttemptAt *time.Time `bson:"notification_email_last_attempt_at,omitempty"`
	NotificationEmailError         string     `bson:"notification_email_error,omitempty"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	return messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,

		NotificationScheduledFor:       m.Notification.ScheduledFor,
		NotificationEmailSentAt:        m.Notification.EmailSentAt,
		NotificationEmailCancelledAt:   m.Notification.EmailCancelledAt,
		NotificationEmailAttempts:      m.Notification.EmailAttempts,
		NotificationEmailLastAttemptAt: m.Notification.EmailLastAttemptAt,
		NotificationEmailError:         m.Notification.EmailError,
	}
}

func (d messageDocument) toDomain() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       d.SenderID,
		RecipientID:    d.RecipientID,
		Body:           d.Body,
		CreatedAt:      d.CreatedAt.UTC(),
		ReadAt:         normalizeTime(d.ReadAt),
		Notification: domainchat.Notification{
			ScheduledFor:       normalizeTime(d.NotificationScheduledFor),
			EmailSentAt:        normalizeTime(d.NotificationEmailSentAt),
			EmailCancelledAt:   normalizeTime(d.NotificationEmailCancelledAt),
			EmailAttempts:      d.NotificationEmailAttempts,
			EmailLastAttemptAt: normalizeTime(d.NotificationEmailLastAttemptAt),
			EmailError:         d.NotificationEmailError,
		},
	}
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
