// Package handles maps stable remote identifiers to compact local handles.
// Handles are what the messaging framework passes around; identifiers never
// leave this table once interned.
package handles

import "sync"

// Handle is a framework-scoped identifier for a contact. Zero is never a
// valid handle.
type Handle uint32

// None is the zero handle.
const None Handle = 0

// Repo allocates and resolves handles for one identifier namespace.
type Repo struct {
	mu       sync.RWMutex
	byID     map[string]Handle
	byHandle map[Handle]string
	next     Handle
}

// NewRepo creates an empty repository.
func NewRepo() *Repo {
	return &Repo{
		byID:     make(map[string]Handle),
		byHandle: make(map[Handle]string),
		next:     1,
	}
}

// Ensure returns the handle for id, allocating one on first sight.
func (r *Repo) Ensure(id string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byID[id]; ok {
		return h
	}

	h := r.next
	r.next++
	r.byID[id] = h
	r.byHandle[h] = id
	return h
}

// Lookup returns the handle for id without allocating.
func (r *Repo) Lookup(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// ID returns the identifier bound to h.
func (r *Repo) ID(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[h]
	return id, ok
}

// Valid reports whether h has been allocated.
func (r *Repo) Valid(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byHandle[h]
	return ok
}

// Count returns the number of allocated handles.
func (r *Repo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
