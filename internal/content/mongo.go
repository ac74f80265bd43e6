package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time check that MongoRepository implements Repository.
var _ Repository = (*MongoRepository)(nil)

// MongoRepository stores records in a MongoDB collection.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates a repository backed by col.
func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the indexes used by the quota queries.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("owner_type_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "title_key", Value: 1}, {Key: "author_key", Value: 1}},
			Options: options.Index().SetName("type_title_author_idx"),
		},
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "showcase", Value: 1}},
			Options: options.Index().SetName("owner_showcase_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("create content indexes: %w", err)
	}
	return nil
}

// Insert stores a new record.
func (r *MongoRepository) Insert(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// FindByID loads one record.
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// CountSince counts the owner's records of a type in the window.
func (r *MongoRepository) CountSince(ctx context.Context, ownerID string, t Type, since time.Time) (int64, error) {
	n, err := r.col.CountDocuments(ctx, windowFilter(ownerID, t, since))
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ExistsNormalized looks up a live record with the same normalized fields.
func (r *MongoRepository) ExistsNormalized(ctx context.Context, t Type, titleKey, authorKey string, statuses []Status) (bool, error) {
	n, err := r.col.CountDocuments(ctx, duplicateFilter(t, titleKey, authorKey, statuses), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("find duplicates: %w", err)
	}
	return n > 0, nil
}

// CountShowcased counts the owner's showcased records.
func (r *MongoRepository) CountShowcased(ctx context.Context, ownerID string) (int64, error) {
	n, err := r.col.CountDocuments(ctx, showcaseFilter(ownerID))
	if err != nil {
		return 0, fmt.Errorf("count showcased: %w", err)
	}
	return n, nil
}

func windowFilter(ownerID string, t Type, since time.Time) bson.M {
	return bson.M{
		"owner_id":   ownerID,
		"type":       t,
		"created_at": bson.M{"$gte": since},
	}
}

func duplicateFilter(t Type, titleKey, authorKey string, statuses []Status) bson.M {
	return bson.M{
		"type":       t,
		"title_key":  titleKey,
		"author_key": authorKey,
		"status":     bson.M{"$in": statuses},
	}
}

func showcaseFilter(ownerID string) bson.M {
	return bson.M{
		"owner_id": ownerID,
		"showcase": true,
		"status":   bson.M{"$ne": StatusRemoved},
	}
}
