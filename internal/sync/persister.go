package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
	"pharmacy-favorites-sync/internal/store"
)

// Persister mirrors the engine's cache into the state store so the next
// process can warm-start. Writes are coalesced and skipped when the state
// has not changed since the last save.
type Persister struct {
	engine *Engine
	store  store.Store
	owner  string

	signal      chan struct{}
	unsubscribe func()

	mu       sync.Mutex
	lastHash string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPersister(engine *Engine, s store.Store, owner string) *Persister {
	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{
		engine: engine,
		store:  s,
		owner:  owner,
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Restore loads the persisted snapshot into the engine. The caller is
// expected to follow up with a forced fetch.
func (p *Persister) Restore(ctx context.Context) (bool, error) {
	state, found, err := p.store.LoadSnapshot(ctx, p.owner)
	if err != nil {
		return false, fmt.Errorf("restoring snapshot: %w", err)
	}
	if !found {
		return false, nil
	}
	if !p.engine.Hydrate(state) {
		return false, nil
	}
	p.mu.Lock()
	p.lastHash = calculateHash(state)
	p.mu.Unlock()
	logger.Log.Info("Restored favorites snapshot",
		zap.Int("deals", len(state.Deals)),
		zap.Int("pharmacies", len(state.Pharmacies)),
	)
	return true, nil
}

func (p *Persister) Start() {
	p.unsubscribe = p.engine.Subscribe(func(store.FavoriteState) {
		select {
		case p.signal <- struct{}{}:
		default:
		}
	})
	p.wg.Add(1)
	go p.run()
}

func (p *Persister) Stop() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.cancel()
	p.wg.Wait()
}

func (p *Persister) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.signal:
			p.save(p.ctx)
		case <-p.ctx.Done():
			p.save(context.Background()) // Flush final state
			return
		}
	}
}

// Clear deletes the owner's snapshot. Called when the session ends so a
// later process does not warm-start from a logged-out user's favorites.
func (p *Persister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.DeleteSnapshot(ctx, p.owner); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	p.lastHash = calculateHash(emptyState)
	logger.Log.Info("Cleared favorites snapshot")
	return nil
}

func (p *Persister) save(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.engine.State()
	hash := calculateHash(state)
	if hash == p.lastHash {
		return
	}

	if err := p.store.SaveSnapshot(ctx, p.owner, state); err != nil {
		logger.Log.Error("Failed to persist favorites snapshot", zap.Error(err))
		return
	}
	p.lastHash = hash
}

var emptyState = store.FavoriteState{Deals: []store.EntityRef{}, Pharmacies: []store.EntityRef{}}

func calculateHash(state store.FavoriteState) string {
	// encoding/json sorts map keys, so equal states hash equally.
	bytes, _ := json.Marshal(state)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}
