package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/media-ingest/internal/events"
)

// Static errors for committing content.
var (
	// ErrMediaRequired is returned when a media-required type is committed without an upload.
	ErrMediaRequired = errors.New("content: media upload required before commit")
	// ErrCommitFailed is returned when the metadata store rejects the write.
	ErrCommitFailed = errors.New("content: commit failed")
	// ErrUnknownType is returned for content types the committer does not know.
	ErrUnknownType = errors.New("content: unknown content type")
)

// CommitterOption configures a Committer.
type CommitterOption func(*Committer)

// WithStreaks enables streak counting.
func WithStreaks(s StreakCounter) CommitterOption {
	return func(c *Committer) {
		c.streaks = s
	}
}

// WithPublisher sets the notification publisher.
func WithPublisher(p events.Publisher) CommitterOption {
	return func(c *Committer) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) CommitterOption {
	return func(c *Committer) {
		c.now = now
	}
}

// WithCommitLogger sets the logger.
func WithCommitLogger(l *slog.Logger) CommitterOption {
	return func(c *Committer) {
		if l != nil {
			c.logger = l
		}
	}
}

// Committer writes content records to the metadata store.
type Committer struct {
	repo      Repository
	streaks   StreakCounter
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewCommitter creates a Committer writing to repo.
func NewCommitter(repo Repository, opts ...CommitterOption) *Committer {
	c := &Committer{
		repo:      repo,
		publisher: events.NoopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit writes the record for draft exactly once. Media-required types need
// a successful upload in m. Streak and notification updates after the write
// are best effort: their failures are logged and the committed record is
// returned regardless.
//
// When the write fails the uploaded object, if any, is left in place.
func (c *Committer) Commit(ctx context.Context, draft Draft, m *Media) (*Record, error) {
	if !draft.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, draft.Type)
	}
	hasMedia := m != nil && m.Ref != ""
	if draft.Type.RequiresMedia() && !hasMedia {
		return nil, ErrMediaRequired
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Type:      draft.Type,
		OwnerID:   draft.OwnerID,
		Title:     draft.Title,
		Author:    draft.Author,
		Caption:   draft.Caption,
		TitleKey:  draft.TitleKey(),
		AuthorKey: draft.AuthorKey(),
		Status:    StatusPublished,
		Showcase:  draft.Showcase,
		CreatedAt: c.now().UTC(),
	}
	if draft.Type.Moderated() {
		rec.Status = StatusPending
	}
	if hasMedia {
		rec.MediaRef = m.Ref
		rec.StoragePath = m.StoragePath
		rec.MediaKind = m.Kind
	}

	if err := c.repo.Insert(ctx, rec); err != nil {
		c.logger.Error("content commit failed",
			slog.String("owner_id", draft.OwnerID),
			slog.String("type", string(draft.Type)),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	c.logger.Info("content committed",
		slog.String("record_id", rec.ID),
		slog.String("owner_id", rec.OwnerID),
		slog.String("type", string(rec.Type)),
		slog.String("status", string(rec.Status)),
	)

	c.afterCommit(ctx, rec)
	return rec, nil
}

// afterCommit runs the secondary updates. Nothing here can undo the commit.
func (c *Committer) afterCommit(ctx context.Context, rec *Record) {
	if c.streaks != nil {
		streak, err := c.streaks.Touch(ctx, rec.OwnerID, rec.CreatedAt)
		if err != nil {
			c.logger.Warn("streak update failed",
				slog.String("owner_id", rec.OwnerID),
				slog.String("error", err.Error()),
			)
		} else {
			c.logger.Debug("streak updated",
				slog.String("owner_id", rec.OwnerID),
				slog.Int("streak", streak),
			)
		}
	}

	err := c.publisher.PublishContentCommitted(ctx, events.ContentCommitted{
		RecordID:  rec.ID,
		Type:      string(rec.Type),
		OwnerID:   rec.OwnerID,
		Status:    string(rec.Status),
		MediaRef:  rec.MediaRef,
		Showcase:  rec.Showcase,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		c.logger.Warn("content notification failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
