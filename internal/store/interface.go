package store

import (
	"context"
)

// Store persists non-authoritative favorites snapshots and the sync history.
type Store interface {
	// Snapshots
	LoadSnapshot(ctx context.Context, owner string) (FavoriteState, bool, error)
	SaveSnapshot(ctx context.Context, owner string, state FavoriteState) error
	DeleteSnapshot(ctx context.Context, owner string) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}
