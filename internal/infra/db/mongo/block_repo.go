package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "huddle/internal/domain/chat"
)

// BlockRegistry stores directed block edges, unique per (blocker, blocked).
type BlockRegistry struct {
	col *mongo.Collection
}

func NewBlockRegistry(db *mongo.Database) *BlockRegistry {
	col := db.Collection("user_blocks")
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "blocker", Value: 1}, {Key: "blocked", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &BlockRegistry{col: col}
}

func (r *BlockRegistry) Upsert(ctx context.Context, rel domainchat.BlockRelation) error {
	filter := bson.M{"blocker": rel.Blocker, "blocked": rel.Blocked}
	update := bson.M{
		"$set":         bson.M{"reason": rel.Reason},
		"$setOnInsert": bson.M{"created_at": rel.CreatedAt},
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *BlockRegistry) Delete(ctx context.Context, blocker, blocked string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"blocker": blocker, "blocked": blocked})
	return err
}

func (r *BlockRegistry) Status(ctx context.Context, userID, peerID string) (domainchat.BlockStatus, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"blocker": userID, "blocked": peerID},
		bson.M{"blocker": peerID, "blocked": userID},
	}}
	cursor, err := r.col.Find(ctx, filter)
	if err != nil {
		return domainchat.BlockStatus{}, err
	}
	var docs []blockDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return domainchat.BlockStatus{}, err
	}
	var status domainchat.BlockStatus
	for _, doc := range docs {
		if doc.Blocker == userID {
			status.ByMe = true
		}
		if doc.Blocker == peerID {
			status.ByPeer = true
		}
	}
	return status, nil
}

type blockDocument struct {
	Blocker   string    `bson:"blocker"`
	Blocked   string    `bson:"blocked"`
	Reason    string    `bson:"reason,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}
