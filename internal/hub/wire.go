// internal/hub/wire.go
package hub

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spgill/banker/internal/models"
)

// Message types carried on the observer stream.
const (
	MessageUpdate = "update"
	MessageKick   = "kick"
)

// UpdatePayload is the body of an update frame: the lobby snapshot plus the
// events produced by the mutation that triggered it (or the full backlog on
// first connect).
type UpdatePayload struct {
	Lobby  *models.Lobby   `json:"lobby"`
	Events []*models.Event `json:"events"`
}

// UpdateMessage is a routine data frame.
type UpdateMessage struct {
	Type    string        `json:"type"`
	Payload UpdatePayload `json:"payload"`
}

// KickMessage is the control frame pushed when a player is kicked or the
// lobby is disbanded. Player is null on disband; every client compares the
// id against its own and tears down if it matches (or always, on null).
type KickMessage struct {
	Type   string     `json:"type"`
	Player *uuid.UUID `json:"player"`
}

func encodeUpdate(lobby *models.Lobby, events []*models.Event) ([]byte, error) {
	if events == nil {
		events = []*models.Event{}
	}
	return json.Marshal(UpdateMessage{
		Type:    MessageUpdate,
		Payload: UpdatePayload{Lobby: lobby, Events: events},
	})
}

func encodeKick(target *uuid.UUID) ([]byte, error) {
	return json.Marshal(KickMessage{Type: MessageKick, Player: target})
}
