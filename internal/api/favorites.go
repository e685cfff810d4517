package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/store"
	"pharmacy-favorites-sync/internal/sync"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type membershipResponse struct {
	Kind     store.Kind `json:"kind"`
	ID       string     `json:"id"`
	Favorite bool       `json:"favorite"`
}

type sessionResponse struct {
	Favorites store.FavoriteState `json:"favorites"`
	Status    sync.Status         `json:"status"`
}

func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	kind, err := store.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.List(kind))
}

func (h *Handler) IsFavorite(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := relationParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Kind: kind, ID: id, Favorite: h.engine.IsFavorite(kind, id)})
}

func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := relationParams(w, r)
	if !ok {
		return
	}

	entity, err := h.engine.AddRelation(r.Context(), kind, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]store.EntityRef{"entity": entity})
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := relationParams(w, r)
	if !ok {
		return
	}

	if err := h.engine.RemoveRelation(r.Context(), kind, id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := relationParams(w, r)
	if !ok {
		return
	}

	on, err := h.engine.ToggleRelation(r.Context(), kind, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Kind: kind, ID: id, Favorite: on})
}

func (h *Handler) RefreshSync(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Refresh(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	history, err := h.engine.History().Recent(r.Context(), limit, offset)
	if err != nil {
		logger.Log.Error("Failed to read sync history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(history))
}

// StartSession loads the favorites once; repeated calls are served from cache.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.FetchAll(r.Context(), false)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Favorites: state, Status: h.engine.Status()})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	if h.persister != nil {
		if err := h.persister.Clear(r.Context()); err != nil {
			logger.Log.Error("Failed to clear snapshot on logout", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func relationParams(w http.ResponseWriter, r *http.Request) (store.Kind, string, bool) {
	kind, err := store.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, sync.ErrEmptyID.Error())
		return "", "", false
	}
	return kind, id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeEngineError(w http.ResponseWriter, err error) {
	var mErr *sync.MutationError
	var fErr *sync.FetchError
	switch {
	case errors.As(err, &mErr):
		writeError(w, http.StatusBadGateway, mErr.Message)
	case errors.As(err, &fErr):
		writeError(w, http.StatusBadGateway, fErr.Message)
	case errors.Is(err, store.ErrUnknownKind), errors.Is(err, sync.ErrEmptyID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logger.Log.Error("Unexpected engine error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
