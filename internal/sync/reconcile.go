package sync

import (
	"context"

	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/store"
)

func (e *Engine) scheduleReconcile(key Key) {
	e.mu.Lock()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.Enqueue(key)
		return
	}
	go func() {
		if err := e.reconcile(context.Background(), []Key{key}); err != nil {
			logger.Log.Warn("Reconcile failed", zap.Stringer("key", key), zap.Error(err))
		}
	}()
}

// reconcile replaces the cached entries for keys with the server's
// canonical data. A key mutated again since reconcile started is left to
// that newer operation.
func (e *Engine) reconcile(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}

	e.mu.Lock()
	gen := e.generation
	seen := make(map[Key]uint64, len(keys))
	for _, k := range keys {
		seen[k] = e.versions[k]
	}
	e.mu.Unlock()

	entry := e.history.start(ctx, OpReconcile, nil)
	rel, err := e.service.GetAll(ctx)
	e.history.finish(ctx, entry, err)
	if err != nil {
		return &FetchError{Message: messageOf(err), Err: err}
	}

	server := map[Key]store.EntityRef{}
	for _, r := range rel.Deals {
		server[Key{Kind: store.KindDeal, ID: r.ID}] = r
	}
	for _, r := range rel.Pharmacies {
		server[Key{Kind: store.KindPharmacy, ID: r.ID}] = r
	}

	changed := false
	for _, key := range keys {
		applied, err := e.reconcileKey(ctx, gen, key, seen[key], server)
		if err != nil {
			return err
		}
		changed = changed || applied
	}

	if changed {
		e.notify()
	}
	return nil
}

func (e *Engine) reconcileKey(ctx context.Context, gen uint64, key Key, version uint64, server map[Key]store.EntityRef) (bool, error) {
	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation || e.versions[key] != version {
		return false, nil
	}

	ref, onServer := server[key]
	local := e.cache.Contains(key.Kind, key.ID)
	switch {
	case onServer && local:
		e.cache.Upsert(key.Kind, ref)
		return true, nil
	case !onServer && local:
		logger.Log.Info("Relation missing on server, dropping", zap.Stringer("key", key))
		e.cache.Remove(key.Kind, key.ID)
		return true, nil
	}
	return false, nil
}
