// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spgill/banker/internal/models"
)

// MemoryStore is an in-process Store. It backs tests and single-node
// deployments without a database. All documents are deep-copied across the
// boundary so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	lobbies map[uuid.UUID]*models.Lobby
	events  map[uuid.UUID][]*models.Event // keyed by lobby id, append order
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies: make(map[uuid.UUID]*models.Lobby),
		events:  make(map[uuid.UUID][]*models.Event),
	}
}

func (m *MemoryStore) InsertLobby(ctx context.Context, lobby *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies[lobby.ID] = lobby.Clone()
	return nil
}

func (m *MemoryStore) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (m *MemoryStore) FindLobbyByCode(ctx context.Context, code string, now time.Time) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.lobbies {
		if l.Code == code && !l.Disbanded && !l.HasExpired(now) {
			return l.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CodeInUse(ctx context.Context, code string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.lobbies {
		if l.Code == code && !l.Disbanded && !l.HasExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SaveMutation(ctx context.Context, lobby *models.Lobby, events []*models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lobbies[lobby.ID]; !ok {
		return ErrNotFound
	}
	m.lobbies[lobby.ID] = lobby.Clone()
	for _, ev := range events {
		evCopy := *ev
		m.events[lobby.ID] = append(m.events[lobby.ID], &evCopy)
	}
	return nil
}

func (m *MemoryStore) ListEventsByLobby(ctx context.Context, lobbyID uuid.UUID, order Order) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[lobbyID]
	out := make([]*models.Event, len(src))
	for i, ev := range src {
		evCopy := *ev
		out[i] = &evCopy
	}
	// Append order already is ascending time; sort anyway to keep the
	// ordering contract independent of insertion details.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	if order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []uuid.UUID
	for id, l := range m.lobbies {
		if l.Expires.Before(cutoff) {
			delete(m.lobbies, id)
			delete(m.events, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}
