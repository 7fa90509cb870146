package simshare

import (
	"sort"
	"sync"
)

// Users is the set of registered session identifiers. A session is added when
// it is accepted and removed when it closes. It is safe for concurrent use.
type Users struct {
	lock sync.RWMutex
	ids  map[string]struct{}
}

// NewUsers creates an empty Users set
func NewUsers() *Users {
	return &Users{ids: make(map[string]struct{})}
}

// Add registers id. Adding an id that is already present has no effect.
func (u *Users) Add(id string) {
	u.lock.Lock()
	u.ids[id] = struct{}{}
	u.lock.Unlock()
}

// Remove unregisters id, if present
func (u *Users) Remove(id string) {
	u.lock.Lock()
	delete(u.ids, id)
	u.lock.Unlock()
}

// Has returns true if id is registered
func (u *Users) Has(id string) bool {
	u.lock.RLock()
	defer u.lock.RUnlock()
	_, ok := u.ids[id]
	return ok
}

// Len returns the number of registered ids
func (u *Users) Len() int {
	u.lock.RLock()
	defer u.lock.RUnlock()
	return len(u.ids)
}

// List returns the registered ids in sorted order
func (u *Users) List() []string {
	u.lock.RLock()
	result := make([]string, 0, len(u.ids))
	for id := range u.ids {
		result = append(result, id)
	}
	u.lock.RUnlock()
	sort.Strings(result)
	return result
}
