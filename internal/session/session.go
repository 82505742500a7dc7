// internal/session/session.go
package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spgill/banker/internal/ledger"
	"github.com/spgill/banker/internal/models"
	"github.com/spgill/banker/internal/store"
)

// Actor tokens are ed25519-signed JWTs carrying the lobby id ("lobby") and
// the player id ("sub"). The token is opaque to clients; it is minted on
// create/join and re-validated against live lobby state on every call.

var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpireSec is how many seconds until token expiration (0 => none;
	// lobby TTL is the real lifetime bound).
	tokenExpireSec int
)

// Init generates a fresh ed25519 key pair at runtime. Existing tokens are
// invalidated on restart, which simply sends clients back through join.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	parseTokenExpireTime()
}

func parseTokenExpireTime() {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		tokenExpireSec = 0
		return
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		fmt.Printf("failed to parse token expire time: %v\n", err)
		os.Exit(1)
	}
	tokenExpireSec = int(d.Seconds())
}

// CreateToken mints a signed actor token binding a player to a lobby.
func CreateToken(lobbyID, playerID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub":   playerID.String(),
		"lobby": lobbyID.String(),
	}
	if tokenExpireSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(tokenExpireSec) * time.Second).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// parseToken verifies the signature and extracts (lobbyID, playerID).
func parseToken(tokenString string) (uuid.UUID, uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return uuid.Nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil || !t.Valid {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid jwt claims")
	}
	sub, _ := claims["sub"].(string)
	lob, _ := claims["lobby"].(string)
	playerID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing sub in jwt")
	}
	lobbyID, err := uuid.Parse(lob)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("missing lobby in jwt")
	}
	return lobbyID, playerID, nil
}

// Gate resolves actor tokens against live lobby state. It is consulted
// before every ledger mutation except create and join-by-code, which mint
// tokens instead.
type Gate struct {
	store store.Store

	// Now is the clock used for expiry checks. Tests pin it.
	Now func() time.Time
}

// NewGate builds a Gate over the given store.
func NewGate(st store.Store) *Gate {
	return &Gate{store: st, Now: time.Now}
}

// Validate resolves a raw token to (lobby, player), re-checked against
// stored state. Failure codes tell the caller to discard the token:
// SessionInvalid for a missing/malformed token, LobbyInvalid/LobbyExpired
// when the referenced lobby is gone, and PlayerNotActive when the player is
// no longer a member (kicked or left).
func (g *Gate) Validate(ctx context.Context, token string) (*models.Lobby, *models.Player, error) {
	if token == "" {
		return nil, nil, ledger.ErrSessionInvalid
	}
	lobbyID, playerID, err := parseToken(token)
	if err != nil {
		return nil, nil, ledger.ErrSessionInvalid
	}

	lobby, err := g.store.GetLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ledger.ErrLobbyInvalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load lobby %s: %w", lobbyID, err)
	}
	if lobby.Disbanded {
		return nil, nil, ledger.ErrLobbyInvalid
	}
	if lobby.HasExpired(g.Now().UTC()) {
		return nil, nil, ledger.ErrLobbyExpired
	}

	player := lobby.GetPlayer(playerID)
	if player == nil {
		return nil, nil, ledger.ErrPlayerNotActive
	}
	return lobby, player, nil
}
