package api

import (
	"time"

	"pharmacy-favorites-sync/internal/store"
)

type historyEntry struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Kind        string     `json:"kind,omitempty"`
	EntityID    string     `json:"entityId,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func toHistoryResponse(history []*store.SyncHistory) []historyEntry {
	out := make([]historyEntry, 0, len(history))
	for _, h := range history {
		e := historyEntry{
			ID:        h.ID,
			Operation: h.Operation,
			Kind:      h.Kind.String,
			EntityID:  h.EntityID.String,
			Status:    h.Status,
			Error:     h.ErrorMessage.String,
			StartedAt: h.StartedAt,
		}
		if h.CompletedAt.Valid {
			t := h.CompletedAt.Time
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	return out
}
