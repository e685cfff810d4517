package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmacy-favorites-sync/internal/database"
)

// SQLStore implements Store on MySQL or SQLite. Both dialects accept the
// same statements.
type SQLStore struct {
	db *database.Database
}

func NewSQLStore(db *database.Database) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) LoadSnapshot(ctx context.Context, owner string) (FavoriteState, bool, error) {
	query := `SELECT owner, kind, position, entity_id, payload, updated_at
			  FROM favorite_snapshots WHERE owner = ? ORDER BY kind, position`

	var rows []SnapshotEntry
	if err := s.db.DB.SelectContext(ctx, &rows, query, owner); err != nil {
		return FavoriteState{}, false, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(rows) == 0 {
		return FavoriteState{}, false, nil
	}

	state := FavoriteState{Deals: []EntityRef{}, Pharmacies: []EntityRef{}}
	for _, row := range rows {
		var ref EntityRef
		if err := json.Unmarshal(row.Payload, &ref); err != nil {
			return FavoriteState{}, false, fmt.Errorf("decoding snapshot entry %s/%s: %w", row.Kind, row.EntityID, err)
		}
		switch Kind(row.Kind) {
		case KindDeal:
			state.Deals = append(state.Deals, ref)
		case KindPharmacy:
			state.Pharmacies = append(state.Pharmacies, ref)
		}
	}
	return state, true, nil
}

// SaveSnapshot replaces the owner's snapshot in a single transaction.
func (s *SQLStore) SaveSnapshot(ctx context.Context, owner string, state FavoriteState) error {
	now := time.Now().UTC()
	return s.db.ExecTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM favorite_snapshots WHERE owner = ?`, owner); err != nil {
			return fmt.Errorf("clearing snapshot: %w", err)
		}

		insert := `INSERT INTO favorite_snapshots (owner, kind, position, entity_id, payload, updated_at)
				   VALUES (:owner, :kind, :position, :entity_id, :payload, :updated_at)`
		for _, kind := range Kinds {
			for i, ref := range state.ByKind(kind) {
				payload, err := json.Marshal(ref)
				if err != nil {
					return fmt.Errorf("encoding %s/%s: %w", kind, ref.ID, err)
				}
				entry := SnapshotEntry{
					Owner:     owner,
					Kind:      string(kind),
					Position:  i,
					EntityID:  ref.ID,
					Payload:   payload,
					UpdatedAt: now,
				}
				if _, err := tx.NamedExecContext(ctx, insert, entry); err != nil {
					return fmt.Errorf("writing snapshot entry %s/%s: %w", kind, ref.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) DeleteSnapshot(ctx context.Context, owner string) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM favorite_snapshots WHERE owner = ?`, owner)
	return err
}

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, operation, kind, entity_id, status, error_message)
			  VALUES (:id, :started_at, :completed_at, :operation, :kind, :entity_id, :status, :error_message)`

	_, err := s.db.DB.NamedExecContext(ctx, query, history)
	return err
}

func (s *SQLStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		history.CompletedAt,
		history.Status,
		history.ErrorMessage,
		history.ID,
	)
	return err
}

func (s *SQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, operation, kind, entity_id, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	var history []*SyncHistory
	if err := s.db.DB.SelectContext(ctx, &history, query, limit, offset); err != nil {
		return nil, err
	}
	return history, nil
}
