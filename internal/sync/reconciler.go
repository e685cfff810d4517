package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pharmacy-favorites-sync/internal/logger"
)

// Reconciler runs follow-up reconciliations on a single worker. Requests
// queued while a round is running are deduplicated and served together by
// the next round with one remote fetch. A round serves at most batch keys.
type Reconciler struct {
	engine *Engine
	batch  int

	mu      sync.Mutex
	queued  map[Key]struct{}
	order   []Key
	running bool
	signal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler attaches a reconciler to engine. Call Start to run it.
func NewReconciler(engine *Engine, batch int) *Reconciler {
	if batch < 1 {
		batch = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		engine: engine,
		batch:  batch,
		queued: make(map[Key]struct{}),
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	engine.mu.Lock()
	engine.reconciler = r
	engine.mu.Unlock()
	return r
}

func (r *Reconciler) Start() {
	logger.Log.Info("Starting reconciler")
	r.wg.Add(1)
	go r.run()
}

func (r *Reconciler) Stop() {
	r.engine.mu.Lock()
	if r.engine.reconciler == r {
		r.engine.reconciler = nil
	}
	r.engine.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	logger.Log.Info("Stopped reconciler")
}

// Enqueue never blocks.
func (r *Reconciler) Enqueue(key Key) {
	r.mu.Lock()
	if _, ok := r.queued[key]; !ok {
		r.queued[key] = struct{}{}
		r.order = append(r.order, key)
	}
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Pending reports queued keys plus whether a round is running.
func (r *Reconciler) Pending() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order), r.running
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.signal:
			r.drain()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reconciler) drain() {
	r.mu.Lock()
	n := min(len(r.order), r.batch)
	keys := r.order[:n:n]
	r.order = r.order[n:]
	for _, k := range keys {
		delete(r.queued, k)
	}
	more := len(r.order) > 0
	r.running = n > 0
	r.mu.Unlock()

	if more {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
	if n == 0 {
		return
	}

	logger.Log.Debug("Reconciling relations", zap.Int("keys", len(keys)))
	if err := r.engine.reconcile(r.ctx, keys); err != nil {
		logger.Log.Warn("Reconcile failed", zap.Int("keys", len(keys)), zap.Error(err))
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}
