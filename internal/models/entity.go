// internal/models/entity.go
package models

import "github.com/google/uuid"

// Reserved entity tokens accepted on the transfer wire form.
const (
	TokenSelf        = "__self__"
	TokenBank        = "__bank__"
	TokenFreeParking = "__freeParking__"
)

// EntityKind tags one side of a transfer.
type EntityKind int

const (
	EntityInvalid EntityKind = iota
	EntitySelf
	EntityBank
	EntityFreeParking
	EntityPlayer
)

// Entity is a resolved transfer endpoint: the calling player, the bank, the
// free parking pool, or another player by id. Parsed once at the request
// boundary and never re-interpreted downstream.
type Entity struct {
	Kind     EntityKind
	PlayerID uuid.UUID
}

// ParseEntity resolves a wire token or player id string into an Entity.
// Unknown strings yield EntityInvalid.
func ParseEntity(raw string) Entity {
	switch raw {
	case TokenSelf:
		return Entity{Kind: EntitySelf}
	case TokenBank:
		return Entity{Kind: EntityBank}
	case TokenFreeParking:
		return Entity{Kind: EntityFreeParking}
	}
	if id, err := uuid.Parse(raw); err == nil {
		return Entity{Kind: EntityPlayer, PlayerID: id}
	}
	return Entity{Kind: EntityInvalid}
}
