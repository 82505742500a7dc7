// internal/ledger/locks.go
package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable hands out one mutex per lobby id. Mutations for a given lobby are
// admitted single-writer; different lobbies never contend.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// get returns the mutex owning the given lobby id, creating it on first use.
func (t *lockTable) get(id uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	return m
}

// release drops the entry for a lobby that reached a terminal state. A waiter
// already holding the old mutex pointer is unaffected; it will find the lobby
// gone (or disbanded) when it looks.
func (t *lockTable) release(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, id)
}

// size reports how many lobby entries the table currently holds.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
