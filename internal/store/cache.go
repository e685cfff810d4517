package store

import "sync"

// RelationCache holds the current user's favorites in memory. Each kind is
// an ordered, duplicate-free list; an index keeps lookups O(1).
type RelationCache struct {
	mu    sync.RWMutex
	lists map[Kind]*relationList
}

type relationList struct {
	refs  []EntityRef
	index map[string]int
}

func newRelationList() *relationList {
	return &relationList{index: make(map[string]int)}
}

func NewRelationCache() *RelationCache {
	c := &RelationCache{lists: make(map[Kind]*relationList, len(Kinds))}
	for _, k := range Kinds {
		c.lists[k] = newRelationList()
	}
	return c
}

func (c *RelationCache) list(kind Kind) *relationList {
	l, ok := c.lists[kind]
	if !ok {
		l = newRelationList()
		c.lists[kind] = l
	}
	return l
}

func (c *RelationCache) Contains(kind Kind, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lists[kind]
	if !ok {
		return false
	}
	_, found := l.index[id]
	return found
}

func (c *RelationCache) Get(kind Kind, id string) (EntityRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lists[kind]
	if !ok {
		return EntityRef{}, false
	}
	i, found := l.index[id]
	if !found {
		return EntityRef{}, false
	}
	return l.refs[i].Clone(), true
}

// Upsert inserts ref, or replaces the entry with the same ID in place.
func (c *RelationCache) Upsert(kind Kind, ref EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list(kind).upsert(ref.Clone())
}

func (l *relationList) upsert(ref EntityRef) {
	if i, found := l.index[ref.ID]; found {
		l.refs[i] = ref
		return
	}
	l.index[ref.ID] = len(l.refs)
	l.refs = append(l.refs, ref)
}

// Remove deletes the entry for id and returns it with the position it held.
func (c *RelationCache) Remove(kind Kind, id string) (EntityRef, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lists[kind]
	if !ok {
		return EntityRef{}, -1, false
	}
	i, found := l.index[id]
	if !found {
		return EntityRef{}, -1, false
	}

	removed := l.refs[i]
	l.refs = append(l.refs[:i], l.refs[i+1:]...)
	delete(l.index, id)
	l.reindex(i)
	return removed, i, true
}

// Restore puts ref back at pos, the position reported by Remove. If ref.ID
// is present again it is replaced in place. pos is clamped to the list.
func (c *RelationCache) Restore(kind Kind, ref EntityRef, pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.list(kind)
	if _, found := l.index[ref.ID]; found {
		l.upsert(ref.Clone())
		return
	}

	pos = max(0, min(pos, len(l.refs)))
	l.refs = append(l.refs, EntityRef{})
	copy(l.refs[pos+1:], l.refs[pos:])
	l.refs[pos] = ref.Clone()
	l.reindex(pos)
}

func (l *relationList) reindex(from int) {
	for j := from; j < len(l.refs); j++ {
		l.index[l.refs[j].ID] = j
	}
}

// ReplaceAll overwrites the kind with refs. Repeated IDs keep the first
// position and the last value.
func (c *RelationCache) ReplaceAll(kind Kind, refs []EntityRef) {
	l := newRelationList()
	for _, r := range refs {
		l.upsert(r.Clone())
	}

	c.mu.Lock()
	c.lists[kind] = l
	c.mu.Unlock()
}

func (c *RelationCache) List(kind Kind) []EntityRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listLocked(kind)
}

func (c *RelationCache) listLocked(kind Kind) []EntityRef {
	l, ok := c.lists[kind]
	if !ok {
		return []EntityRef{}
	}
	out := make([]EntityRef, len(l.refs))
	for i, r := range l.refs {
		out[i] = r.Clone()
	}
	return out
}

func (c *RelationCache) Snapshot() FavoriteState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return FavoriteState{
		Deals:      c.listLocked(KindDeal),
		Pharmacies: c.listLocked(KindPharmacy),
	}
}

func (c *RelationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range Kinds {
		c.lists[k] = newRelationList()
	}
}
