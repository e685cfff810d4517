package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/remote"
	"pharmacy-favorites-sync/internal/store"
)

const fetchFlight = "fetch"

// Engine keeps the session's favorites cache consistent with the remote
// service while applying mutations optimistically.
//
// Operations on the same relation key are serialized: a second call waits
// for the first to settle before touching the cache. Concurrent full fetches
// share one remote call.
type Engine struct {
	service remote.Service
	cache   *store.RelationCache
	locks   *keyLocks
	fetches singleflight.Group
	history *History

	mu          sync.Mutex
	generation  uint64
	initialized bool
	inFlight    int
	errMsg      string
	pending     map[Key]OpType // unsettled mutations
	versions    map[Key]uint64
	reconciler  *Reconciler

	listenersMu  sync.Mutex
	listeners    map[int]func(store.FavoriteState)
	nextListener int
}

type Option func(*Engine)

// WithHistory records every operation outcome in h.
func WithHistory(h *History) Option {
	return func(e *Engine) { e.history = h }
}

func NewEngine(service remote.Service, opts ...Option) *Engine {
	e := &Engine{
		service:   service,
		cache:     store.NewRelationCache(),
		locks:     newKeyLocks(),
		pending:   make(map[Key]OpType),
		versions:  make(map[Key]uint64),
		listeners: make(map[int]func(store.FavoriteState)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// History returns the recorder set with WithHistory, or nil.
func (e *Engine) History() *History {
	return e.history
}

func (e *Engine) IsFavorite(kind store.Kind, id string) bool {
	return e.cache.Contains(kind, id)
}

func (e *Engine) State() store.FavoriteState {
	return e.cache.Snapshot()
}

func (e *Engine) List(kind store.Kind) []store.EntityRef {
	return e.cache.List(kind)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsLoading:     e.inFlight > 0,
		Error:         e.errMsg,
		IsInitialized: e.initialized,
	}
}

// FetchAll loads the favorites once per session. Later calls return the
// cached state without a remote call unless force is set. A failed load is
// recorded in Status and does not make FetchAll return an error; the only
// errors returned come from ctx.
func (e *Engine) FetchAll(ctx context.Context, force bool) (store.FavoriteState, error) {
	e.mu.Lock()
	if e.initialized && !force {
		e.mu.Unlock()
		return e.State(), nil
	}
	e.mu.Unlock()

	if err := e.fetchShared(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.State(), ctxErr
		}
	}
	return e.State(), nil
}

// Refresh forces a full load and reports its failure as *FetchError.
func (e *Engine) Refresh(ctx context.Context) (store.FavoriteState, error) {
	err := e.fetchShared(ctx)
	return e.State(), err
}

func (e *Engine) fetchShared(ctx context.Context) error {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	// The shared call outlives any single caller.
	fctx := context.WithoutCancel(ctx)
	ch := e.fetches.DoChan(fetchFlight, func() (any, error) {
		return nil, e.fetch(fctx, gen)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) fetch(ctx context.Context, gen uint64) error {
	e.mu.Lock()
	e.inFlight++
	since := make(map[Key]uint64, len(e.versions))
	for k, v := range e.versions {
		since[k] = v
	}
	e.mu.Unlock()
	entry := e.history.start(ctx, OpFetch, nil)

	rel, err := e.service.GetAll(ctx)

	e.mu.Lock()
	e.inFlight--
	if gen != e.generation {
		e.mu.Unlock()
		logger.Log.Debug("Dropping fetch result from previous session")
		e.history.finish(ctx, entry, err)
		return err
	}

	var fetchErr *FetchError
	if err != nil {
		fetchErr = &FetchError{Message: messageOf(err), Err: err}
		e.errMsg = fetchErr.Message
	} else {
		e.cache.ReplaceAll(store.KindDeal, e.mergeLocalLocked(store.KindDeal, rel.Deals, since))
		e.cache.ReplaceAll(store.KindPharmacy, e.mergeLocalLocked(store.KindPharmacy, rel.Pharmacies, since))
		e.errMsg = ""
	}
	e.initialized = true
	e.mu.Unlock()

	e.history.finish(ctx, entry, err)
	if fetchErr != nil {
		logger.Log.Warn("Failed to fetch favorites", zap.String("error", fetchErr.Message))
		return fetchErr
	}

	logger.Log.Info("Fetched favorites",
		zap.Int("deals", len(rel.Deals)),
		zap.Int("pharmacies", len(rel.Pharmacies)),
	)
	e.notify()
	return nil
}

// mergeLocalLocked applies server data except for keys the server may not
// reflect yet: keys with an unsettled mutation, and keys mutated after the
// fetch started. Those keep their local membership and entry. Caller holds
// e.mu.
func (e *Engine) mergeLocalLocked(kind store.Kind, refs []store.EntityRef, since map[Key]uint64) []store.EntityRef {
	local := make(map[string]bool)
	for key := range e.pending {
		if key.Kind == kind {
			local[key.ID] = true
		}
	}
	for key, v := range e.versions {
		if key.Kind == kind && since[key] != v {
			local[key.ID] = true
		}
	}
	if len(local) == 0 {
		return refs
	}

	out := make([]store.EntityRef, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if local[r.ID] {
			cached, ok := e.cache.Get(kind, r.ID)
			if !ok {
				continue
			}
			r = cached
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, r := range e.cache.List(kind) {
		if local[r.ID] && !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// AddRelation marks (kind, id) as a favorite. The cache shows a placeholder
// until the server returns the full entity; on failure the cache is rolled
// back and a *MutationError is returned.
func (e *Engine) AddRelation(ctx context.Context, kind store.Kind, id string) (store.EntityRef, error) {
	key := Key{Kind: kind, ID: id}
	unlock, err := e.lockKey(ctx, key)
	if err != nil {
		return store.EntityRef{}, err
	}
	defer unlock()
	return e.add(ctx, key)
}

// RemoveRelation unmarks (kind, id). On failure the removed entry is
// restored exactly and a *MutationError is returned.
func (e *Engine) RemoveRelation(ctx context.Context, kind store.Kind, id string) error {
	key := Key{Kind: kind, ID: id}
	unlock, err := e.lockKey(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return e.remove(ctx, key)
}

// ToggleRelation flips membership of (kind, id) and reports the new value.
// After a successful add the relation is reconciled against the server.
func (e *Engine) ToggleRelation(ctx context.Context, kind store.Kind, id string) (bool, error) {
	key := Key{Kind: kind, ID: id}
	unlock, err := e.lockKey(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	if e.cache.Contains(kind, id) {
		if err := e.remove(ctx, key); err != nil {
			return true, err
		}
		return false, nil
	}

	if _, err := e.add(ctx, key); err != nil {
		return false, err
	}
	e.scheduleReconcile(key)
	return true, nil
}

func (e *Engine) lockKey(ctx context.Context, key Key) (func(), error) {
	if err := validateKey(key.Kind, key.ID); err != nil {
		return nil, err
	}
	return e.locks.Lock(ctx, key)
}

// add runs with the key lock held.
func (e *Engine) add(ctx context.Context, key Key) (store.EntityRef, error) {
	e.mu.Lock()
	gen := e.generation
	prev, existed := e.cache.Get(key.Kind, key.ID)
	if !existed {
		e.cache.Upsert(key.Kind, store.Placeholder(key.ID))
	}
	e.pending[key] = OpAdd
	e.versions[key]++
	e.inFlight++
	e.mu.Unlock()
	e.notify()

	logger.Log.Debug("Optimistic add", zap.Stringer("key", key))
	entry := e.history.start(ctx, OpAdd, &key)

	res, err := e.service.Add(ctx, key.Kind, key.ID)

	e.mu.Lock()
	delete(e.pending, key)
	e.inFlight--
	if gen != e.generation {
		e.mu.Unlock()
		e.history.finish(ctx, entry, err)
		if err != nil {
			return store.EntityRef{}, e.mutationError(OpAdd, key, err)
		}
		return res.Entity, nil
	}

	if err != nil {
		if existed {
			e.cache.Upsert(key.Kind, prev)
		} else {
			e.cache.Remove(key.Kind, key.ID)
		}
		mErr := e.mutationError(OpAdd, key, err)
		e.errMsg = mErr.Message
		e.mu.Unlock()

		e.history.finish(ctx, entry, err)
		logger.Log.Warn("Rolled back add", zap.Stringer("key", key), zap.String("error", mErr.Message))
		e.notify()
		return store.EntityRef{}, mErr
	}

	entity := res.Entity
	if entity.ID != key.ID {
		if entity.ID != "" {
			logger.Log.Warn("Server returned entity with different id",
				zap.Stringer("key", key),
				zap.String("entity_id", entity.ID),
			)
		}
		entity.ID = key.ID
	}
	e.cache.Upsert(key.Kind, entity)
	e.errMsg = ""
	e.mu.Unlock()

	e.history.finish(ctx, entry, nil)
	e.notify()
	return entity.Clone(), nil
}

// remove runs with the key lock held.
func (e *Engine) remove(ctx context.Context, key Key) error {
	e.mu.Lock()
	gen := e.generation
	previous, pos, existed := e.cache.Remove(key.Kind, key.ID)
	e.pending[key] = OpRemove
	e.versions[key]++
	e.inFlight++
	e.mu.Unlock()
	e.notify()

	logger.Log.Debug("Optimistic remove", zap.Stringer("key", key))
	entry := e.history.start(ctx, OpRemove, &key)

	err := e.service.Remove(ctx, key.Kind, key.ID)

	e.mu.Lock()
	delete(e.pending, key)
	e.inFlight--
	if gen != e.generation {
		e.mu.Unlock()
		e.history.finish(ctx, entry, err)
		if err != nil {
			return e.mutationError(OpRemove, key, err)
		}
		return nil
	}

	if err != nil {
		if existed {
			e.cache.Restore(key.Kind, previous, pos)
		}
		mErr := e.mutationError(OpRemove, key, err)
		e.errMsg = mErr.Message
		e.mu.Unlock()

		e.history.finish(ctx, entry, err)
		logger.Log.Warn("Rolled back remove", zap.Stringer("key", key), zap.String("error", mErr.Message))
		e.notify()
		return mErr
	}

	e.errMsg = ""
	e.mu.Unlock()

	e.history.finish(ctx, entry, nil)
	return nil
}

func (e *Engine) mutationError(op OpType, key Key, err error) *MutationError {
	return &MutationError{
		Op:      op,
		Kind:    key.Kind,
		ID:      key.ID,
		Message: messageOf(err),
		Err:     err,
	}
}

// Hydrate seeds an uninitialized cache from a persisted snapshot. The
// snapshot is not authoritative: the session stays uninitialized until a
// fetch completes.
func (e *Engine) Hydrate(state store.FavoriteState) bool {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return false
	}
	e.cache.ReplaceAll(store.KindDeal, state.Deals)
	e.cache.ReplaceAll(store.KindPharmacy, state.Pharmacies)
	e.mu.Unlock()
	e.notify()
	return true
}

// Reset discards the session's state. Results of calls issued before Reset
// are not applied to the new session.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.generation++
	e.cache.Clear()
	e.initialized = false
	e.errMsg = ""
	e.pending = make(map[Key]OpType)
	e.versions = make(map[Key]uint64)
	e.mu.Unlock()

	e.fetches.Forget(fetchFlight)
	logger.Log.Info("Favorites session reset")
	e.notify()
}

// Subscribe registers fn to receive the cache state after every change.
// fn must not block; it is called from the goroutine that made the change.
func (e *Engine) Subscribe(fn func(store.FavoriteState)) func() {
	e.listenersMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.listenersMu.Unlock()

	return func() {
		e.listenersMu.Lock()
		delete(e.listeners, id)
		e.listenersMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.listenersMu.Lock()
	if len(e.listeners) == 0 {
		e.listenersMu.Unlock()
		return
	}
	fns := make([]func(store.FavoriteState), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenersMu.Unlock()

	state := e.cache.Snapshot()
	for _, fn := range fns {
		fn(state)
	}
}
