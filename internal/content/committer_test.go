package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest/internal/events"
	"github.com/maauso/media-ingest/internal/media"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishContentCommitted(ctx context.Context, ev events.ContentCommitted) error {
	return m.Called(ctx, ev).Error(0)
}

type failingStreaks struct{}

func (failingStreaks) Touch(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("streak store down")
}

type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) Insert(context.Context, *Record) error {
	return errors.New("write concern timeout")
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestCommit_TrackIsPendingWithMedia(t *testing.T) {
	repo := NewMemoryRepository()
	pub := &mockPublisher{}
	pub.On("PublishContentCommitted", mock.Anything, mock.MatchedBy(func(ev events.ContentCommitted) bool {
		return ev.Status == "pending" && ev.MediaRef == "https://cdn/t.m4a"
	})).Return(nil)

	c := NewCommitter(repo, WithPublisher(pub), WithClock(clock))
	rec, err := c.Commit(context.Background(), Draft{
		Type: TypeTrack, OwnerID: "u1", Title: "Blue  Moon", Author: "The Band",
	}, &Media{StoragePath: "track/u1/t.m4a", Ref: "https://cdn/t.m4a", Kind: media.KindAudio})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "https://cdn/t.m4a", rec.MediaRef)
	assert.Equal(t, "blue moon", rec.TitleKey)
	assert.Equal(t, "the band", rec.AuthorKey)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, 1, repo.Len())
	pub.AssertExpectations(t)
}

func TestCommit_PostIsPublished(t *testing.T) {
	repo := NewMemoryRepository()
	c := NewCommitter(repo)

	rec, err := c.Commit(context.Background(), Draft{Type: TypePost, OwnerID: "u1"},
		&Media{StoragePath: "p", Ref: "https://cdn/p.jpg", Kind: media.KindImage})
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, rec.Status)
	assert.Equal(t, media.KindImage, rec.MediaKind)
}

func TestCommit_NoteNeedsNoMedia(t *testing.T) {
	repo := NewMemoryRepository()
	rec, err := NewCommitter(repo).Commit(context.Background(), Draft{Type: TypeNote, OwnerID: "u1", Caption: "hi"}, nil)
	require.NoError(t, err)
	assert.Empty(t, rec.MediaRef)
	assert.Equal(t, StatusPublished, rec.Status)
}

func TestCommit_MediaRequired(t *testing.T) {
	repo := NewMemoryRepository()
	c := NewCommitter(repo)

	for _, m := range []*Media{nil, {StoragePath: "x"}} {
		_, err := c.Commit(context.Background(), Draft{Type: TypeTrack, OwnerID: "u1"}, m)
		assert.ErrorIs(t, err, ErrMediaRequired)
	}
	assert.Equal(t, 0, repo.Len())
}

func TestCommit_UnknownType(t *testing.T) {
	_, err := NewCommitter(NewMemoryRepository()).Commit(context.Background(), Draft{Type: "story"}, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestCommit_InsertFailure(t *testing.T) {
	pub := &mockPublisher{}
	c := NewCommitter(failingRepo{NewMemoryRepository()}, WithPublisher(pub))

	_, err := c.Commit(context.Background(), Draft{Type: TypeNote, OwnerID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrCommitFailed)
	pub.AssertNotCalled(t, "PublishContentCommitted", mock.Anything, mock.Anything)
}

func TestCommit_SecondaryFailuresDoNotRollBack(t *testing.T) {
	repo := NewMemoryRepository()
	pub := &mockPublisher{}
	pub.On("PublishContentCommitted", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	c := NewCommitter(repo, WithStreaks(failingStreaks{}), WithPublisher(pub))
	rec, err := c.Commit(context.Background(), Draft{Type: TypeNote, OwnerID: "u1"}, nil)
	require.NoError(t, err)

	stored, err := repo.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestCommit_UpdatesStreak(t *testing.T) {
	streaks := NewMemoryStreaks()
	c := NewCommitter(NewMemoryRepository(), WithStreaks(streaks), WithClock(clock))

	_, err := c.Commit(context.Background(), Draft{Type: TypeNote, OwnerID: "u1"}, nil)
	require.NoError(t, err)

	n, err := streaks.Touch(context.Background(), "u1", fixedNow.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
