package sync

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/store"
)

const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

// History writes operation outcomes to the state store. A nil *History
// records nothing. Store failures are logged, never returned.
type History struct {
	store store.Store
	now   func() time.Time
}

func NewHistory(s store.Store) *History {
	return &History{store: s, now: time.Now}
}

func (h *History) start(ctx context.Context, op OpType, key *Key) *store.SyncHistory {
	if h == nil {
		return nil
	}

	entry := &store.SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: h.now().UTC(),
		Operation: string(op),
		Status:    statusRunning,
	}
	if key != nil {
		entry.Kind = sql.NullString{String: string(key.Kind), Valid: true}
		entry.EntityID = sql.NullString{String: key.ID, Valid: true}
	}

	if err := h.store.CreateSyncHistory(context.WithoutCancel(ctx), entry); err != nil {
		logger.Log.Error("Failed to record sync history", zap.String("operation", string(op)), zap.Error(err))
		return nil
	}
	return entry
}

func (h *History) finish(ctx context.Context, entry *store.SyncHistory, opErr error) {
	if h == nil || entry == nil {
		return
	}

	entry.CompletedAt = sql.NullTime{Time: h.now().UTC(), Valid: true}
	entry.Status = statusSucceeded
	if opErr != nil {
		entry.Status = statusFailed
		entry.ErrorMessage = sql.NullString{String: messageOf(opErr), Valid: true}
	}

	if err := h.store.UpdateSyncHistory(context.WithoutCancel(ctx), entry); err != nil {
		logger.Log.Error("Failed to update sync history", zap.String("id", entry.ID), zap.Error(err))
	}
}

// Recent returns the newest history entries first.
func (h *History) Recent(ctx context.Context, limit, offset int) ([]*store.SyncHistory, error) {
	if h == nil {
		return []*store.SyncHistory{}, nil
	}
	return h.store.GetSyncHistory(ctx, limit, offset)
}
