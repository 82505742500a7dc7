// internal/ledger/chain.go
package ledger

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// The event digest is a rolling blake2b-256 hash over the ordered sequence
// of event ids applied to a lobby:
//
//	d0 = hex(H(lobbyID))
//	dn = hex(H(d(n-1) || eventID))
//
// Replaying the same id sequence from the same seed always reproduces the
// final digest; reordering or dropping an event changes it.

// SeedDigest returns the initial digest for a freshly created lobby.
func SeedDigest(lobbyID uuid.UUID) string {
	sum := blake2b.Sum256(lobbyID[:])
	return hex.EncodeToString(sum[:])
}

// AdvanceDigest folds one event id into the chain.
func AdvanceDigest(prev string, eventID uuid.UUID) string {
	buf := make([]byte, 0, len(prev)+len(eventID))
	buf = append(buf, prev...)
	buf = append(buf, eventID[:]...)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
