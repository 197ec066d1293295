package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "huddle/internal/domain/chat"
)

// ConversationRepository stores conversations with a unique index on the
// canonical participant key, so each user pair has at most one thread.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	col := db.Collection("conversations")
	keyIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "participant_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	listIdx := mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{keyIdx, listIdx})
	return &ConversationRepository{col: col}
}

func (r *ConversationRepository) GetOrCreate(ctx context.Context, a, b string) (*domainchat.Conversation, error) {
	conv, err := domainchat.NewConversation(a, b)
	if err != nil {
		return nil, err
	}
	existing, err := r.byKey(ctx, conv.ParticipantKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domainchat.ErrConversationNotFound) {
		return nil, err
	}
	conv.ID = domainchat.ConversationID(uuid.NewString())
	if _, err := r.col.InsertOne(ctx, newConversationDocument(conv)); err != nil {
		// Two concurrent first-sends race on the unique key; whoever loses
		// re-fetches the winner's document instead of failing the caller.
		if mongo.IsDuplicateKeyError(err) {
			return r.byKey(ctx, conv.ParticipantKey)
		}
		return nil, err
	}
	return conv, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ByParticipants(ctx context.Context, a, b string) (*domainchat.Conversation, error) {
	return r.byKey(ctx, domainchat.ParticipantKey(a, b))
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	filter := bson.M{"participants": userID, "deleted_for": bson.M{"$ne": userID}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*domainchat.Conversation
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cursor.Err()
}

// ApplyMessage folds a message into the conversation with field-level
// operators in one update, so concurrent sends from both sides never lose an
// unread increment.
func (r *ConversationRepository) ApplyMessage(ctx context.Context, id domainchat.ConversationID, msg *domainchat.Message) (*domainchat.Conversation, error) {
	update := bson.M{
		"$set": bson.M{
			"last_message": lastMessageDocument{
				Body:     msg.Body,
				SenderID: msg.SenderID,
				SentAt:   msg.CreatedAt,
			},
			"unread_counts." + msg.SenderID: 0,
			"updated_at":                    msg.CreatedAt,
		},
		"$inc":  bson.M{"unread_counts." + msg.RecipientID: 1},
		"$pull": bson.M{"deleted_for": bson.M{"$in": []string{msg.SenderID, msg.RecipientID}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc conversationDocument
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": string(id)}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) ZeroUnread(ctx context.Context, id domainchat.ConversationID, userID string) error {
	update := bson.M{"$set": bson.M{"unread_counts." + userID: 0}}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	return err
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, id domainchat.ConversationID, userID string) error {
	update := bson.M{
		"$addToSet": bson.M{"deleted_for": userID},
		"$set":      bson.M{"unread_counts." + userID: 0},
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	return err
}

func (r *ConversationRepository) Restore(ctx context.Context, id domainchat.ConversationID, userID string) error {
	update := bson.M{"$pull": bson.M{"deleted_for": userID}}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	return err
}

func (r *ConversationRepository) byKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"participant_key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

type conversationDocument struct {
	ID             string               `bson:"_id"`
	Participants   []string             `bson:"participants"`
	ParticipantKey string               `bson:"participant_key"`
	LastMessage    *lastMessageDocument `bson:"last_message,omitempty"`
	UnreadCounts   map[string]int       `bson:"unread_counts"`
	DeletedFor     []string             `bson:"deleted_for,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

type lastMessageDocument struct {
	Body     string    `bson:"body"`
	SenderID string    `bson:"sender_id"`
	SentAt   time.Time `bson:"sent_at"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:             string(c.ID),
		Participants:   c.Participants,
		ParticipantKey: c.ParticipantKey,
		UnreadCounts:   c.UnreadCounts,
		DeletedFor:     c.DeletedFor,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.LastMessage != nil {
		doc.LastMessage = &lastMessageDocument{
			Body:     c.LastMessage.Body,
			SenderID: c.LastMessage.SenderID,
			SentAt:   c.LastMessage.SentAt,
		}
	}
	return doc
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	conv := &domainchat.Conversation{
		ID:             domainchat.ConversationID(d.ID),
		Participants:   d.Participants,
		ParticipantKey: d.ParticipantKey,
		UnreadCounts:   d.UnreadCounts,
		DeletedFor:     d.DeletedFor,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = domainchat.UnreadCounts{}
	}
	if d.LastMessage != nil {
		conv.LastMessage = &domainchat.LastMessage{
			Body:     d.LastMessage.Body,
			SenderID: d.LastMessage.SenderID,
			SentAt:   d.LastMessage.SentAt.UTC(),
		}
	}
	return conv
}
