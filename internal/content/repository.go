package content

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("content: record not found")

// ErrDuplicateID is returned when inserting a record whose id is taken.
var ErrDuplicateID = errors.New("content: duplicate record id")

// Repository is the metadata store.
type Repository interface {
	// Insert stores a new record.
	Insert(ctx context.Context, r *Record) error
	// FindByID returns the record with the given id or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Record, error)
	// CountSince counts the owner's records of type t created at or after since.
	CountSince(ctx context.Context, ownerID string, t Type, since time.Time) (int64, error)
	// ExistsNormalized reports whether a record of type t with the given
	// normalized title and author exists in one of statuses.
	ExistsNormalized(ctx context.Context, t Type, titleKey, authorKey string, statuses []Status) (bool, error)
	// CountShowcased counts the owner's showcased records that are not removed.
	CountShowcased(ctx context.Context, ownerID string) (int64, error)
}

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory Repository.
// It stores copies so callers cannot mutate stored records.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

// Insert stores a copy of r.
func (m *MemoryRepository) Insert(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrDuplicateID
	}
	m.records[r.ID] = *r
	return nil
}

// FindByID returns a copy of the stored record.
func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// CountSince counts matching records.
func (m *MemoryRepository) CountSince(ctx context.Context, ownerID string, t Type, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Type == t && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ExistsNormalized looks for a live duplicate.
func (m *MemoryRepository) ExistsNormalized(ctx context.Context, t Type, titleKey, authorKey string, statuses []Status) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.Type == t && r.TitleKey == titleKey && r.AuthorKey == authorKey && slices.Contains(statuses, r.Status) {
			return true, nil
		}
	}
	return false, nil
}

// CountShowcased counts the owner's showcased records.
func (m *MemoryRepository) CountShowcased(ctx context.Context, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Showcase && r.Status != StatusRemoved {
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// All returns copies of every stored record.
func (m *MemoryRepository) All() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}
