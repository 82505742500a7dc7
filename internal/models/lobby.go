// internal/models/lobby.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Currency symbols accepted by lobby options.
const (
	CurrencyDollars = "$"
	CurrencyPounds  = "£"
)

// ValidCurrencies is the closed set of currency symbols a lobby may use.
var ValidCurrencies = map[string]bool{
	CurrencyDollars: true,
	CurrencyPounds:  true,
}

// LobbyOptions is the configuration record a lobby is created with. It is
// stored verbatim on the lobby so clients can re-render the rules screen.
type LobbyOptions struct {
	UnlimitedBank   bool   `json:"unlimitedBank"`
	FreeParking     bool   `json:"freeParking"`
	MaxPlayers      int    `json:"maxPlayers"`
	BankBalance     int    `json:"bankBalance"`
	StartingBalance int    `json:"startingBalance"`
	Currency        string `json:"currency"`
}

// Player is one member of a lobby. Balances are whole currency units.
type Player struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Balance int       `json:"balance"`
}

// Lobby is a single game session: join code, membership, and the ledger
// balances (bank, free parking pool, players).
type Lobby struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Created   time.Time `json:"created"`
	Expires   time.Time `json:"expires"`
	Disbanded bool      `json:"disbanded"`

	Options LobbyOptions `json:"options"`

	Bank        int `json:"bank"`
	FreeParking int `json:"freeParking"`

	// Banker is the player currently holding the banker role, or uuid.Nil
	// before the first join.
	Banker uuid.UUID `json:"banker"`

	// Players is ordered by join time. Order is display order only.
	Players []*Player `json:"players"`

	// EventDigest is the rolling hash over the ordered event id sequence.
	// Seeded with the lobby id; advanced once per accepted event.
	EventDigest string `json:"eventDigest"`
}

// GetPlayer returns the member with the given id, or nil.
func (l *Lobby) GetPlayer(id uuid.UUID) *Player {
	for _, p := range l.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// GetPlayerByName returns the member whose name matches case-insensitively,
// or nil. Used for rejoin-by-name.
func (l *Lobby) GetPlayerByName(name string) *Player {
	for _, p := range l.Players {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// RemovePlayer drops the member with the given id, preserving join order of
// the rest. Returns the removed player, or nil if not a member.
func (l *Lobby) RemovePlayer(id uuid.UUID) *Player {
	for i, p := range l.Players {
		if p.ID == id {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			return p
		}
	}
	return nil
}

// HasExpired reports whether the lobby TTL has elapsed at the given instant.
func (l *Lobby) HasExpired(now time.Time) bool {
	return !l.Expires.After(now)
}

// Total returns bank + free parking + all player balances. Every accepted
// mutation except creation must preserve this sum.
func (l *Lobby) Total() int {
	sum := l.Bank + l.FreeParking
	for _, p := range l.Players {
		sum += p.Balance
	}
	return sum
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// freely and commit with a whole-document replace.
func (l *Lobby) Clone() *Lobby {
	cp := *l
	cp.Players = make([]*Player, len(l.Players))
	for i, p := range l.Players {
		pp := *p
		cp.Players[i] = &pp
	}
	return &cp
}
