package deadline

import (
	"slices"
	"sync"
	"time"
)

type record struct {
	item    string
	owner   int64
	started time.Time
	sched   Schedule

	// cancel is closed when the record leaves the registry, waking the worker
	// early. done is closed when the worker returns.
	cancel chan struct{}
	done   chan struct{}
}

// registry indexes live records by item and by owner. Every mutation takes
// the write lock, so add, remove and the expiry claim never interleave.
type registry struct {
	mu     sync.RWMutex
	items  map[string]*record
	owners map[int64][]string
}

func newRegistry() *registry {
	return &registry{
		items:  map[string]*record{},
		owners: map[int64][]string{},
	}
}

func (r *registry) add(rec *record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[rec.item]; ok {
		return ErrDuplicateTimer
	}
	r.items[rec.item] = rec
	r.owners[rec.owner] = append(r.owners[rec.owner], rec.item)
	return nil
}

// remove deletes the record for item, whichever worker owns it.
func (r *registry) remove(item string) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[item]
	if !ok {
		return nil, false
	}
	r.dropLocked(rec)
	return rec, true
}

// removeIf deletes rec only if it is still the live record for its item.
// A worker uses it to claim the terminal action.
func (r *registry) removeIf(rec *record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[rec.item] != rec {
		return false
	}
	r.dropLocked(rec)
	return true
}

func (r *registry) dropLocked(rec *record) {
	delete(r.items, rec.item)
	keys := slices.DeleteFunc(r.owners[rec.owner], func(k string) bool { return k == rec.item })
	if len(keys) == 0 {
		delete(r.owners, rec.owner)
	} else {
		r.owners[rec.owner] = keys
	}
	close(rec.cancel)
}

func (r *registry) current(rec *record) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[rec.item] == rec
}

func (r *registry) get(item string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[item]
	return rec, ok
}

func (r *registry) itemsFor(owner int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.owners[owner])
}

func (r *registry) all() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*record, 0, len(r.items))
	for _, rec := range r.items {
		out = append(out, rec)
	}
	return out
}

func (r *registry) len() (items, owners int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), len(r.owners)
}
