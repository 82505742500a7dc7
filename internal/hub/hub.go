// internal/hub/hub.go
package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spgill/banker/internal/models"
)

// Hub tracks live observer connections per lobby and fans ledger updates out
// to them. The registry is an owned map injected into whatever constructs the
// hub, never ambient global state, so each test gets an isolated lifetime.
//
// The registry mutex is held only to snapshot the connection set; frames are
// enqueued outside it and enqueue itself never blocks, so a broadcast to one
// lobby cannot stall mutations on another.
type Hub struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[*Conn]struct{}
	log   *logrus.Logger
}

// New returns an empty Hub.
func New(log *logrus.Logger) *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]map[*Conn]struct{}),
		log:   log,
	}
}

// Register adds a connection to a lobby's observer set. Safe to call
// concurrently with broadcasts and with Unregister.
func (h *Hub) Register(lobbyID uuid.UUID, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[lobbyID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[lobbyID] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes a connection. A connection that was already lazily
// dropped is a no-op.
func (h *Hub) Unregister(lobbyID uuid.UUID, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(lobbyID, conn)
}

func (h *Hub) removeLocked(lobbyID uuid.UUID, conn *Conn) {
	if set, ok := h.conns[lobbyID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, lobbyID)
		}
	}
}

// ObserverCount reports how many connections are registered for a lobby.
func (h *Hub) ObserverCount(lobbyID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[lobbyID])
}

// snapshot returns the current observer list for a lobby.
func (h *Hub) snapshot(lobbyID uuid.UUID) []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[lobbyID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// PushUpdate serializes the lobby snapshot plus new events and delivers the
// frame to every observer of that lobby. Dead connections found at send time
// are lazily unregistered; a full buffer drops the frame for that observer
// only.
func (h *Hub) PushUpdate(lobby *models.Lobby, events []*models.Event) {
	frame, err := encodeUpdate(lobby, events)
	if err != nil {
		h.log.WithError(err).Errorf("hub: failed to encode update for lobby %s", lobby.ID)
		return
	}
	h.deliver(lobby.ID, frame)
}

// PushTo delivers a single update frame to one connection, bypassing the
// registry. Used to replay the event backlog to a freshly attached observer
// before it is registered for live updates.
func (h *Hub) PushTo(conn *Conn, lobby *models.Lobby, events []*models.Event) {
	frame, err := encodeUpdate(lobby, events)
	if err != nil {
		h.log.WithError(err).Errorf("hub: failed to encode backlog for lobby %s", lobby.ID)
		return
	}
	if !conn.enqueue(frame) {
		h.log.Warnf("hub: dropped backlog frame for player %s on lobby %s", conn.PlayerID, lobby.ID)
	}
}

// PushForceDisconnect delivers a kick control frame instead of a data update.
// With a target player, every observer is told who was kicked and the
// target's own connections are closed and dropped. With no target (disband),
// every observer of the lobby is torn down.
func (h *Hub) PushForceDisconnect(lobbyID uuid.UUID, target *uuid.UUID) {
	frame, err := encodeKick(target)
	if err != nil {
		h.log.WithError(err).Errorf("hub: failed to encode kick for lobby %s", lobbyID)
		return
	}
	for _, conn := range h.snapshot(lobbyID) {
		conn.enqueue(frame)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns[lobbyID] {
		if target == nil || conn.PlayerID == *target {
			conn.Close()
			h.removeLocked(lobbyID, conn)
		}
	}
}

func (h *Hub) deliver(lobbyID uuid.UUID, frame []byte) {
	var dead []*Conn
	for _, conn := range h.snapshot(lobbyID) {
		if !conn.IsConnected() {
			dead = append(dead, conn)
			continue
		}
		if !conn.enqueue(frame) {
			h.log.Warnf("hub: dropped frame for player %s on lobby %s (buffer full)", conn.PlayerID, lobbyID)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			h.removeLocked(lobbyID, conn)
		}
		h.mu.Unlock()
	}
}
