// internal/models/event.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event keys. The log stores a key plus typed inserts rather than rendered
// text, so the client owns presentation and localization.
const (
	EventBankTransferStart = "BANK_TRANSFER_START"
	EventPlayerJoin        = "PLY_JOIN"
	EventPlayerMadeBanker  = "PLY_MADE_BANKER"
	EventBankerTransferred = "PLY_TRANSFER_BANKER"
	EventPlayerLeave       = "PLY_LEAVE"
	EventPlayerKick        = "PLY_KICK"
	EventTransfer          = "TRANSFER"
	EventDisbanded         = "DISBANDED"
)

// Bundle keys referenced by bundle inserts.
const (
	BundleTransferSelf = "TRANSFER_SELF"
	BundleTransferBank = "TRANSFER_BANK"
	BundleTransferFP   = "TRANSFER_FP"
)

// InsertKind tags the variant held by an Insert.
type InsertKind string

const (
	InsertPlayer   InsertKind = "player"
	InsertCurrency InsertKind = "currency"
	InsertBundle   InsertKind = "bundle"
)

// Insert is one typed slot in an event's ordered insert list. Exactly one of
// Player, Amount, Bundle is meaningful, selected by Kind.
type Insert struct {
	Kind   InsertKind
	Player uuid.UUID
	Amount int
	Bundle string
}

// PlayerInsert references a lobby member.
func PlayerInsert(id uuid.UUID) Insert {
	return Insert{Kind: InsertPlayer, Player: id}
}

// CurrencyInsert carries a currency amount.
func CurrencyInsert(amount int) Insert {
	return Insert{Kind: InsertCurrency, Amount: amount}
}

// BundleInsert references a named string bundle (the bank, the pool, "themself").
func BundleInsert(key string) Insert {
	return Insert{Kind: InsertBundle, Bundle: key}
}

// MarshalJSON encodes the insert as the 2-tuple the client consumes:
// ["player", "<uuid>"], ["currency", 500] or ["bundle", "TRANSFER_BANK"].
func (ins Insert) MarshalJSON() ([]byte, error) {
	switch ins.Kind {
	case InsertPlayer:
		return json.Marshal([2]interface{}{string(InsertPlayer), ins.Player.String()})
	case InsertCurrency:
		return json.Marshal([2]interface{}{string(InsertCurrency), ins.Amount})
	case InsertBundle:
		return json.Marshal([2]interface{}{string(InsertBundle), ins.Bundle})
	}
	return nil, fmt.Errorf("unknown insert kind %q", ins.Kind)
}

// UnmarshalJSON decodes the 2-tuple form.
func (ins *Insert) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var kind string
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return err
	}
	switch InsertKind(kind) {
	case InsertPlayer:
		var s string
		if err := json.Unmarshal(raw[1], &s); err != nil {
			return err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		*ins = PlayerInsert(id)
	case InsertCurrency:
		var n int
		if err := json.Unmarshal(raw[1], &n); err != nil {
			return err
		}
		*ins = CurrencyInsert(n)
	case InsertBundle:
		var s string
		if err := json.Unmarshal(raw[1], &s); err != nil {
			return err
		}
		*ins = BundleInsert(s)
	default:
		return fmt.Errorf("unknown insert kind %q", kind)
	}
	return nil
}

// Event is one immutable record of an accepted mutation. Never updated or
// deleted once written.
type Event struct {
	ID      uuid.UUID `json:"id"`
	LobbyID uuid.UUID `json:"lobby"`
	Time    time.Time `json:"time"`
	Key     string    `json:"key"`
	Inserts []Insert  `json:"inserts"`
}

// NewEvent builds an event for a lobby with a fresh id.
func NewEvent(lobbyID uuid.UUID, at time.Time, key string, inserts ...Insert) *Event {
	return &Event{
		ID:      uuid.New(),
		LobbyID: lobbyID,
		Time:    at,
		Key:     key,
		Inserts: inserts,
	}
}
