package session

import "sync"

// LockTable maps resource IDs to the agent currently holding them.
// All access serializes through one mutex. Locks never expire; they are
// released only by an explicit Release from the holder.
type LockTable struct {
	holders map[string]string
	mu      sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{holders: make(map[string]string)}
}

// Acquire takes the lock for agent if the resource is free or already held
// by the same agent. Otherwise it returns the current holder and false.
func (t *LockTable) Acquire(resource, agent string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if holder, held := t.holders[resource]; held && holder != agent {
		return holder, false
	}
	t.holders[resource] = agent
	return agent, true
}

// Holder returns the agent holding resource, if any.
func (t *LockTable) Holder(resource string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	holder, held := t.holders[resource]
	return holder, held
}

// Release frees resource if agent is its holder.
func (t *LockTable) Release(resource, agent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if holder, held := t.holders[resource]; !held || holder != agent {
		return false
	}
	delete(t.holders, resource)
	return true
}

// Held returns a copy of the resource -> holder table.
func (t *LockTable) Held() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.holders))
	for r, a := range t.holders {
		out[r] = a
	}
	return out
}
