// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spgill/banker/internal/models"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// Order selects the time direction of an event listing. Direction is a view
// chosen by the caller, not a storage property: the websocket replay reads
// ascending, the recent-activity endpoint reads descending.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Store is the persistence collaborator for lobbies and events. Documents are
// written whole: a lobby mutation is one replace, and SaveMutation commits
// the replaced lobby together with its new events as a single unit.
type Store interface {
	// InsertLobby persists a freshly created lobby.
	InsertLobby(ctx context.Context, lobby *models.Lobby) error

	// GetLobby fetches a lobby by id. Returns ErrNotFound if absent.
	GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error)

	// FindLobbyByCode fetches the live (non-expired, non-disbanded) lobby
	// holding the given join code. Returns ErrNotFound if none.
	FindLobbyByCode(ctx context.Context, code string, now time.Time) (*models.Lobby, error)

	// CodeInUse reports whether any live lobby holds the given join code.
	CodeInUse(ctx context.Context, code string, now time.Time) (bool, error)

	// SaveMutation replaces the lobby document and appends the new events
	// atomically. A failure leaves neither side applied.
	SaveMutation(ctx context.Context, lobby *models.Lobby, events []*models.Event) error

	// ListEventsByLobby returns a lobby's events ordered by time.
	ListEventsByLobby(ctx context.Context, lobbyID uuid.UUID, order Order) ([]*models.Event, error)

	// DeleteExpiredBefore removes lobbies (and their events) whose expiry
	// predates the cutoff. Returns the ids of the lobbies removed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
