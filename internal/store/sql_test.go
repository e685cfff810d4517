package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-favorites-sync/internal/config"
	"pharmacy-favorites-sync/internal/database"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(config.StateStorage{
		Type:     "sqlite",
		FilePath: filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)

	s := NewSQLStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore_SnapshotRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	state := FavoriteState{
		Deals:      []EntityRef{named("b", "Ibuprofen"), Placeholder("a")},
		Pharmacies: []EntityRef{named("7", "X")},
	}
	require.NoError(t, s.SaveSnapshot(ctx, "u1", state))

	got, found, err := s.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state, got)
}

func TestSQLStore_SaveSnapshotReplacesPrevious(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, "u1", FavoriteState{Deals: []EntityRef{Placeholder("1"), Placeholder("2")}}))
	require.NoError(t, s.SaveSnapshot(ctx, "u1", FavoriteState{Deals: []EntityRef{Placeholder("2")}}))
	require.NoError(t, s.SaveSnapshot(ctx, "u2", FavoriteState{Pharmacies: []EntityRef{Placeholder("9")}}))

	got, found, err := s.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []EntityRef{Placeholder("2")}, got.Deals)
	assert.Empty(t, got.Pharmacies)

	require.NoError(t, s.DeleteSnapshot(ctx, "u1"))
	_, found, err = s.LoadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.LoadSnapshot(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLStore_History(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &SyncHistory{ID: "h1", StartedAt: base, Operation: "fetch", Status: "running"}
	second := &SyncHistory{
		ID:        "h2",
		StartedAt: base.Add(time.Minute),
		Operation: "add",
		Kind:      sql.NullString{String: "deal", Valid: true},
		EntityID:  sql.NullString{String: "42", Valid: true},
		Status:    "running",
	}
	require.NoError(t, s.CreateSyncHistory(ctx, first))
	require.NoError(t, s.CreateSyncHistory(ctx, second))

	second.Status = "failed"
	second.CompletedAt = sql.NullTime{Time: base.Add(2 * time.Minute), Valid: true}
	second.ErrorMessage = sql.NullString{String: "server error", Valid: true}
	require.NoError(t, s.UpdateSyncHistory(ctx, second))

	got, err := s.GetSyncHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "h2", got[0].ID)
	assert.Equal(t, "failed", got[0].Status)
	assert.Equal(t, "server error", got[0].ErrorMessage.String)
	assert.Equal(t, "42", got[0].EntityID.String)
	assert.True(t, got[0].CompletedAt.Valid)
	assert.Equal(t, "h1", got[1].ID)
	assert.False(t, got[1].CompletedAt.Valid)

	page, err := s.GetSyncHistory(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "h1", page[0].ID)
}
