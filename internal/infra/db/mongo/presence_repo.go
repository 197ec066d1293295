package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PresenceRepository persists last-seen timestamps, one document per user.
type PresenceRepository struct {
	col *mongo.Collection
}

func NewPresenceRepository(db *mongo.Database) *PresenceRepository {
	return &PresenceRepository{col: db.Collection("user_presence")}
}

func (r *PresenceRepository) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_seen_at": at}}
	_, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, update, options.Update().SetUpsert(true))
	return err
}

func (r *PresenceRepository) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	var doc struct {
		LastSeenAt time.Time `bson:"last_seen_at"`
	}
	if err := r.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.LastSeenAt.UTC(), nil
}
