package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-favorites-sync/internal/config"
	"pharmacy-favorites-sync/internal/database"
	"pharmacy-favorites-sync/internal/remote"
	"pharmacy-favorites-sync/internal/store"
	"pharmacy-favorites-sync/internal/sync"
)

type testAPI struct {
	handler http.Handler
	engine  *sync.Engine
	fake    *remote.Fake
	store   *store.SQLStore
}

func newTestAPI(t *testing.T, token string) *testAPI {
	t.Helper()
	db, err := database.Open(config.StateStorage{Type: "sqlite", FilePath: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	s := store.NewSQLStore(db)
	t.Cleanup(func() { s.Close() })

	fake := remote.NewFake()
	engine := sync.NewEngine(fake, sync.WithHistory(sync.NewHistory(s)))
	persister := sync.NewPersister(engine, s, "user-1")
	h := NewHandler(engine, persister, config.ServerConfig{AuthToken: token, CorsOrigins: []string{"https://app.example.test"}})
	return &testAPI{handler: h.Routes(), engine: engine, fake: fake, store: s}
}

func (a *testAPI) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPI_Health(t *testing.T) {
	a := newTestAPI(t, "")
	rec := a.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAPI_SessionLifecycle(t *testing.T) {
	a := newTestAPI(t, "")
	a.fake.SetFavorites(store.KindDeal, store.EntityRef{ID: "1", Attrs: map[string]any{"name": "A"}})

	for i := 0; i < 3; i++ {
		rec := a.do(t, http.MethodPost, "/api/v1/session/start")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[sessionResponse](t, rec)
		assert.True(t, body.Status.IsInitialized)
		require.Len(t, body.Favorites.Deals, 1)
	}
	assert.Equal(t, 1, a.fake.Calls(remote.OpGetAll))

	require.NoError(t, a.store.SaveSnapshot(context.Background(), "user-1", a.engine.State()))

	rec := a.do(t, http.MethodPost, "/api/v1/session/logout")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, a.engine.Status().IsInitialized)
	assert.Empty(t, a.engine.State().Deals)

	_, found, err := a.store.LoadSnapshot(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, found, "logout clears the persisted snapshot")
}

func TestAPI_FavoriteMutations(t *testing.T) {
	a := newTestAPI(t, "")
	a.fake.SetEntity(store.KindPharmacy, store.EntityRef{ID: "7", Attrs: map[string]any{"name": "X"}})

	rec := a.do(t, http.MethodPut, "/api/v1/favorites/pharmacy/7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entity":{"id":"7","name":"X"}}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v1/favorites/pharmacy/7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[membershipResponse](t, rec).Favorite)

	rec = a.do(t, http.MethodGet, "/api/v1/favorites/pharmacy")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"7","name":"X"}]`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v1/favorites")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deals":[],"pharmacies":[{"id":"7","name":"X"}]}`, rec.Body.String())

	rec = a.do(t, http.MethodDelete, "/api/v1/favorites/pharmacy/7")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, a.engine.IsFavorite(store.KindPharmacy, "7"))
}

func TestAPI_Toggle(t *testing.T) {
	a := newTestAPI(t, "")

	rec := a.do(t, http.MethodPost, "/api/v1/favorites/deal/9/toggle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[membershipResponse](t, rec).Favorite)

	rec = a.do(t, http.MethodPost, "/api/v1/favorites/deal/9/toggle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[membershipResponse](t, rec).Favorite)
}

func TestAPI_MutationFailure(t *testing.T) {
	a := newTestAPI(t, "")
	a.fake.FailNext(remote.OpAdd, &remote.Error{Message: "deal expired", StatusCode: 422})

	rec := a.do(t, http.MethodPut, "/api/v1/favorites/deal/1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"deal expired"}`, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v1/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deal expired", decode[sync.Status](t, rec).Error)
}

func TestAPI_RefreshFailure(t *testing.T) {
	a := newTestAPI(t, "")
	a.fake.FailNext(remote.OpGetAll, errors.New("server error"))

	rec := a.do(t, http.MethodPost, "/api/v1/sync/refresh")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"server error"}`, rec.Body.String())
}

func TestAPI_BadKind(t *testing.T) {
	a := newTestAPI(t, "")
	rec := a.do(t, http.MethodPut, "/api/v1/favorites/coupon/1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, a.fake.Calls(remote.OpAdd))
}

func TestAPI_History(t *testing.T) {
	a := newTestAPI(t, "")
	a.do(t, http.MethodPost, "/api/v1/session/start")
	a.do(t, http.MethodPut, "/api/v1/favorites/deal/1")

	rec := a.do(t, http.MethodGet, "/api/v1/sync/history?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]historyEntry](t, rec)
	assert.Len(t, entries, 2)

	rec = a.do(t, http.MethodGet, "/api/v1/sync/history?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v1/sync/history?offset=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	a := newTestAPI(t, "s3cret")

	rec := a.do(t, http.MethodGet, "/api/v1/sync/status")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	ok := httptest.NewRecorder()
	a.handler.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	// health stays public
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health").Code)
}

func TestAPI_Cors(t *testing.T) {
	a := newTestAPI(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/favorites", nil)
	req.Header.Set("Origin", "https://app.example.test")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", strings.NewReader(""))
	req.Header.Set("Origin", "https://evil.example.test")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
