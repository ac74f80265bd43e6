package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest/internal/content"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seed(t *testing.T, repo *content.MemoryRepository, recs ...content.Record) {
	t.Helper()
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = fmt.Sprintf("seed-%d-%d", repo.Len(), i)
		}
		require.NoError(t, repo.Insert(context.Background(), &recs[i]))
	}
}

func tracks(owner string, n int, at time.Time) []content.Record {
	out := make([]content.Record, n)
	for i := range out {
		out[i] = content.Record{
			Type: content.TypeTrack, OwnerID: owner, Status: content.StatusPublished,
			TitleKey: fmt.Sprintf("song %d", i), CreatedAt: at,
		}
	}
	return out
}

func TestReserve_RateLimit(t *testing.T) {
	repo := content.NewMemoryRepository()
	seed(t, repo, tracks("u1", 3, now.Add(-time.Hour))...)
	g := NewGuard(repo, DefaultLimits(), WithClock(clock))

	d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Role: RoleUser, Type: content.TypeTrack, Title: "new"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyRateLimited, d.Reason)

	t.Run("elevated roles bypass", func(t *testing.T) {
		for _, role := range []Role{RoleModerator, RoleAdmin} {
			d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Role: role, Type: content.TypeTrack, Title: "new"})
			require.NoError(t, err)
			assert.True(t, d.Allowed, "role %s", role)
		}
	})

	t.Run("old records fall out of the window", func(t *testing.T) {
		repo := content.NewMemoryRepository()
		seed(t, repo, tracks("u2", 3, now.Add(-25*time.Hour))...)
		g := NewGuard(repo, DefaultLimits(), WithClock(clock))

		d, err := g.Reserve(context.Background(), Request{OwnerID: "u2", Type: content.TypeTrack, Title: "new"})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("other types are counted separately", func(t *testing.T) {
		d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypePost})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestReserve_Duplicate(t *testing.T) {
	repo := content.NewMemoryRepository()
	seed(t, repo,
		content.Record{Type: content.TypeTrack, OwnerID: "other", TitleKey: "blue moon", AuthorKey: "the band", Status: content.StatusPending, CreatedAt: now},
		content.Record{Type: content.TypeTrack, OwnerID: "other", TitleKey: "old hit", AuthorKey: "the band", Status: content.StatusRemoved, CreatedAt: now},
	)
	g := NewGuard(repo, DefaultLimits(), WithClock(clock))

	d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack, Title: "  BLUE   Moon", Author: "The Band"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyDuplicate, d.Reason)

	d, err = g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack, Title: "Old Hit", Author: "The Band"})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "removed records do not block resubmission")
}

func TestReserve_PartialPairIsNotADuplicate(t *testing.T) {
	repo := content.NewMemoryRepository()
	seed(t, repo,
		content.Record{Type: content.TypePost, OwnerID: "alice", TitleKey: "sunset", Status: content.StatusPublished, CreatedAt: now},
		content.Record{Type: content.TypePost, OwnerID: "alice", AuthorKey: "alice", Status: content.StatusPublished, CreatedAt: now},
	)
	g := NewGuard(repo, DefaultLimits(), WithClock(clock))

	tests := []struct {
		name string
		req  Request
	}{
		{"title only", Request{OwnerID: "bob", Type: content.TypePost, Title: "Sunset"}},
		{"author only", Request{OwnerID: "bob", Type: content.TypePost, Author: "Alice"}},
		{"neither", Request{OwnerID: "bob", Type: content.TypePost}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := g.Reserve(context.Background(), tt.req)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "reason %s", d.Reason)
		})
	}
}

func TestReserve_ShowcaseCap(t *testing.T) {
	showcased := func(owner string, n int) []content.Record {
		out := make([]content.Record, n)
		for i := range out {
			out[i] = content.Record{Type: content.TypePost, OwnerID: owner, Showcase: true, Status: content.StatusPublished, CreatedAt: now.AddDate(0, -1, 0)}
		}
		return out
	}

	tests := []struct {
		name     string
		existing int
		allowed  bool
	}{
		{name: "five existing allows a sixth", existing: 5, allowed: true},
		{name: "six existing denies a seventh", existing: 6, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := content.NewMemoryRepository()
			seed(t, repo, showcased("u1", tt.existing)...)
			g := NewGuard(repo, DefaultLimits(), WithClock(clock))

			d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypePost, Showcase: true})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, DenyShowcaseCap, d.Reason)
			}
		})
	}

	t.Run("cap ignored for non-showcase submissions", func(t *testing.T) {
		repo := content.NewMemoryRepository()
		seed(t, repo, showcased("u1", 6)...)
		g := NewGuard(repo, DefaultLimits(), WithClock(clock))

		d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypePost})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

type brokenStore struct{}

func (brokenStore) CountSince(context.Context, string, content.Type, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func (brokenStore) ExistsNormalized(context.Context, content.Type, string, string, []content.Status) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenStore) CountShowcased(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestReserve_StoreErrors(t *testing.T) {
	g := NewGuard(brokenStore{}, DefaultLimits())
	_, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack})
	assert.Error(t, err)
}

type stubReserver struct {
	calls int
	ok    bool
	err   error
}

func (s *stubReserver) Reserve(context.Context, string, content.Type, int, time.Duration, time.Time) (bool, error) {
	s.calls++
	return s.ok, s.err
}

func TestReserve_StrictMode(t *testing.T) {
	repo := content.NewMemoryRepository()

	t.Run("reserver denial", func(t *testing.T) {
		r := &stubReserver{ok: false}
		g := NewGuard(repo, DefaultLimits(), WithReserver(r), WithClock(clock))
		d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack})
		require.NoError(t, err)
		assert.Equal(t, DenyRateLimited, d.Reason)
		assert.Equal(t, 1, r.calls)
	})

	t.Run("not consulted for duplicates", func(t *testing.T) {
		repo := content.NewMemoryRepository()
		seed(t, repo, content.Record{Type: content.TypeTrack, OwnerID: "x", TitleKey: "a", AuthorKey: "b", Status: content.StatusPublished, CreatedAt: now})
		r := &stubReserver{ok: true}
		g := NewGuard(repo, DefaultLimits(), WithReserver(r), WithClock(clock))

		d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack, Title: "A", Author: "B"})
		require.NoError(t, err)
		assert.Equal(t, DenyDuplicate, d.Reason)
		assert.Equal(t, 0, r.calls)
	})

	t.Run("not consulted for elevated roles", func(t *testing.T) {
		r := &stubReserver{ok: false}
		g := NewGuard(repo, DefaultLimits(), WithReserver(r), WithClock(clock))
		d, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Role: RoleAdmin, Type: content.TypeTrack})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, r.calls)
	})

	t.Run("reserver error", func(t *testing.T) {
		g := NewGuard(repo, DefaultLimits(), WithReserver(&stubReserver{err: errors.New("redis down")}))
		_, err := g.Reserve(context.Background(), Request{OwnerID: "u1", Type: content.TypeTrack})
		assert.Error(t, err)
	})
}
