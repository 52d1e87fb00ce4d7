package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{
		UserID:     "u1",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	got, err = repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.PreferenceSystem, got.ColorScheme)
	assert.Equal(t, now.Unix(), got.LastSeenAt.Unix())

	require.NoError(t, repo.UpdateColorScheme(ctx, "u1", domain.PreferenceDark))
	got, err = repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PreferenceDark, got.ColorScheme)

	assert.Error(t, repo.UpdateColorScheme(ctx, "nobody", domain.PreferenceDark))
}

func TestSaveFactIsIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	inserted, err := repo.SaveFact(ctx, &domain.Fact{UserID: "u1", FactID: "f1", Text: "likes tea"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.SaveFact(ctx, &domain.Fact{UserID: "u1", FactID: "f1", Text: "likes coffee"})
	require.NoError(t, err)
	assert.False(t, inserted)

	facts, err := repo.ListFacts(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "likes tea", facts[0].Text)
}

func TestListFactsOrderingAndScope(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		_, err := repo.SaveFact(ctx, &domain.Fact{
			UserID:    "u1",
			FactID:    id,
			Text:      id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := repo.SaveFact(ctx, &domain.Fact{UserID: "u2", FactID: "z", Text: "other"})
	require.NoError(t, err)

	facts, err := repo.ListFacts(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "c", facts[0].FactID)
	assert.Equal(t, "b", facts[1].FactID)
}

func TestDeleteFactsBefore(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	_, err := repo.SaveFact(ctx, &domain.Fact{UserID: "u1", FactID: "old", Text: "x", CreatedAt: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = repo.SaveFact(ctx, &domain.Fact{UserID: "u1", FactID: "new", Text: "y"})
	require.NoError(t, err)

	deleted, err := repo.DeleteFactsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	facts, err := repo.ListFacts(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "new", facts[0].FactID)
}
