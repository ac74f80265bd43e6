package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const dayLayout = "2006-01-02"

// StreakCounter tracks consecutive days on which an owner submitted content.
type StreakCounter interface {
	// Touch records a submission at the given time and returns the current streak.
	Touch(ctx context.Context, ownerID string, at time.Time) (int, error)
}

// Streak is the stored streak state of one owner.
type Streak struct {
	OwnerID string `bson:"_id"`
	LastDay string `bson:"last_day"`
	Count   int    `bson:"count"`
}

// advance returns the streak after a submission on day.
func (s Streak) advance(day time.Time) Streak {
	today := day.UTC().Format(dayLayout)
	switch s.LastDay {
	case today:
		return s
	case day.UTC().AddDate(0, 0, -1).Format(dayLayout):
		s.Count++
	default:
		s.Count = 1
	}
	s.LastDay = today
	return s
}

// Compile-time check that MemoryStreaks implements StreakCounter.
var _ StreakCounter = (*MemoryStreaks)(nil)

// MemoryStreaks keeps streaks in memory.
type MemoryStreaks struct {
	mu      sync.Mutex
	streaks map[string]Streak
}

// NewMemoryStreaks creates an empty MemoryStreaks.
func NewMemoryStreaks() *MemoryStreaks {
	return &MemoryStreaks{streaks: make(map[string]Streak)}
}

// Touch advances the owner's streak.
func (m *MemoryStreaks) Touch(ctx context.Context, ownerID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streaks[ownerID]
	s.OwnerID = ownerID
	s = s.advance(at)
	m.streaks[ownerID] = s
	return s.Count, nil
}

// Compile-time check that MongoStreaks implements StreakCounter.
var _ StreakCounter = (*MongoStreaks)(nil)

// MongoStreaks stores one streak document per owner. Updates are read then
// write and may lose a concurrent increment; streaks are eventually consistent.
type MongoStreaks struct {
	col *mongo.Collection
}

// NewMongoStreaks creates a streak counter backed by col.
func NewMongoStreaks(col *mongo.Collection) *MongoStreaks {
	return &MongoStreaks{col: col}
}

// Touch advances the owner's streak.
func (m *MongoStreaks) Touch(ctx context.Context, ownerID string, at time.Time) (int, error) {
	var s Streak
	err := m.col.FindOne(ctx, bson.M{"_id": ownerID}).Decode(&s)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("load streak: %w", err)
	}
	s.OwnerID = ownerID
	s = s.advance(at)

	_, err = m.col.UpdateByID(ctx, ownerID,
		bson.M{"$set": bson.M{"last_day": s.LastDay, "count": s.Count}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, fmt.Errorf("save streak: %w", err)
	}
	return s.Count, nil
}
