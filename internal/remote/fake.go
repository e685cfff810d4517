package remote

import (
	"context"
	"errors"
	"sync"

	"pharmacy-favorites-sync/internal/store"
)

type Op string

const (
	OpGetAll Op = "get_all"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Fake is an in-memory Service for tests. It keeps a server-side list of
// favorites, hydrates added ids from a catalogue, and can fail or hold the
// next call of an operation.
type Fake struct {
	mu        sync.Mutex
	favorites map[store.Kind][]store.EntityRef
	catalogue map[store.Kind]map[string]store.EntityRef
	calls     map[Op]int
	failures  map[Op][]error
	holds     map[Op][]*Hold
}

// Hold parks one call inside the fake until Release is called.
type Hold struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	stale   bool
}

// Entered is closed once the held call has started.
func (h *Hold) Entered() <-chan struct{} { return h.entered }

func (h *Hold) Release() {
	h.once.Do(func() { close(h.release) })
}

func NewFake() *Fake {
	return &Fake{
		favorites: make(map[store.Kind][]store.EntityRef),
		catalogue: make(map[store.Kind]map[string]store.EntityRef),
		calls:     make(map[Op]int),
		failures:  make(map[Op][]error),
		holds:     make(map[Op][]*Hold),
	}
}

// SetEntity registers the hydrated entity returned when ref.ID is added.
func (f *Fake) SetEntity(kind store.Kind, ref store.EntityRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.catalogue[kind] == nil {
		f.catalogue[kind] = make(map[string]store.EntityRef)
	}
	f.catalogue[kind][ref.ID] = ref.Clone()
}

// SetFavorites replaces the server-side favorites of kind.
func (f *Fake) SetFavorites(kind store.Kind, refs ...store.EntityRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]store.EntityRef, len(refs))
	for i, r := range refs {
		list[i] = r.Clone()
	}
	f.favorites[kind] = list
}

func (f *Fake) Favorites(kind store.Kind) []store.EntityRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneRefs(f.favorites[kind])
}

// FailNext makes the next call of op return err.
func (f *Fake) FailNext(op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Hold parks the next call of op until the returned Hold is released.
func (f *Fake) Hold(op Op) *Hold {
	return f.hold(op, false)
}

// HoldStale parks the next GetAll after it has read the server state, so
// the result it returns once released misses changes made meanwhile.
func (f *Fake) HoldStale() *Hold {
	return f.hold(OpGetAll, true)
}

func (f *Fake) hold(op Op, stale bool) *Hold {
	h := &Hold{entered: make(chan struct{}), release: make(chan struct{}), stale: stale}
	f.mu.Lock()
	f.holds[op] = append(f.holds[op], h)
	f.mu.Unlock()
	return h
}

func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// begin reports whether the call was parked by a stale hold.
func (f *Fake) begin(ctx context.Context, op Op) (bool, error) {
	f.mu.Lock()
	f.calls[op]++
	var hold *Hold
	if hs := f.holds[op]; len(hs) > 0 {
		hold, f.holds[op] = hs[0], hs[1:]
	}
	var failure error
	if fs := f.failures[op]; len(fs) > 0 {
		failure, f.failures[op] = fs[0], fs[1:]
	}
	f.mu.Unlock()

	if hold != nil {
		close(hold.entered)
		select {
		case <-hold.release:
		case <-ctx.Done():
			return false, normalizeTransportError(ctx.Err())
		}
	}
	stale := hold != nil && hold.stale

	if failure != nil {
		var re *Error
		if errors.As(failure, &re) {
			return stale, re
		}
		return stale, &Error{Message: failure.Error(), Err: failure}
	}
	return stale, nil
}

func (f *Fake) GetAll(ctx context.Context) (Relations, error) {
	early := f.relations()
	stale, err := f.begin(ctx, OpGetAll)
	if err != nil {
		return Relations{}, err
	}
	if stale {
		return early, nil
	}
	return f.relations(), nil
}

func (f *Fake) relations() Relations {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Relations{
		Deals:      cloneRefs(f.favorites[store.KindDeal]),
		Pharmacies: cloneRefs(f.favorites[store.KindPharmacy]),
	}
}

func (f *Fake) Add(ctx context.Context, kind store.Kind, id string) (AddResult, error) {
	if _, err := f.begin(ctx, OpAdd); err != nil {
		return AddResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	entity, ok := f.catalogue[kind][id]
	if !ok {
		entity = store.EntityRef{ID: id, Attrs: map[string]any{"kind": string(kind)}}
	}
	entity = entity.Clone()

	list := f.favorites[kind]
	for i, r := range list {
		if r.ID == id {
			list[i] = entity
			return AddResult{Entity: entity.Clone()}, nil
		}
	}
	f.favorites[kind] = append(list, entity)
	return AddResult{Entity: entity.Clone()}, nil
}

func (f *Fake) Remove(ctx context.Context, kind store.Kind, id string) error {
	if _, err := f.begin(ctx, OpRemove); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.favorites[kind]
	for i, r := range list {
		if r.ID == id {
			f.favorites[kind] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func cloneRefs(refs []store.EntityRef) []store.EntityRef {
	out := make([]store.EntityRef, len(refs))
	for i, r := range refs {
		out[i] = r.Clone()
	}
	return out
}
