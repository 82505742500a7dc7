// internal/ledger/service.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spgill/banker/internal/models"
	"github.com/spgill/banker/internal/store"
)

// Broadcaster receives the results of accepted mutations. Implemented by the
// hub; tests inject a recorder.
type Broadcaster interface {
	PushUpdate(lobby *models.Lobby, events []*models.Event)
	PushForceDisconnect(lobbyID uuid.UUID, target *uuid.UUID)
}

// Bounds on the configurable player count.
const (
	MinPlayers = 2
	MaxPlayers = 50
)

// DefaultTTL is how long a lobby lives after creation unless LOBBY_TTL
// overrides it.
const DefaultTTL = 24 * time.Hour

// nameBlacklist rejects player names that collide with reserved ledger
// entities, compared case-insensitively.
var nameBlacklist = map[string]bool{
	"bank":         true,
	"the bank":     true,
	"banker":       true,
	"free parking": true,
	"everyone":     true,
	"self":         true,
	"themself":     true,
}

// Service is the lobby ledger: it owns every balance mutation, appends the
// digest-chained event log, and notifies the broadcaster once a mutation is
// durable. All operations are total: a typed failure leaves stored state
// untouched.
type Service struct {
	store store.Store
	hub   Broadcaster
	log   *logrus.Logger
	locks *lockTable
	rng   *rand.Rand

	// TTL is the lobby lifetime applied at creation.
	TTL time.Duration

	// Now is the clock. Tests pin it.
	Now func() time.Time

	// Publish, when set, receives every accepted event after it is durable
	// (the redis historian feed). Failures are logged and never roll back
	// the mutation.
	Publish func(ctx context.Context, ev *models.Event) error
}

// NewService wires a ledger over the given store and broadcaster.
func NewService(st store.Store, b Broadcaster, log *logrus.Logger) *Service {
	ttl := DefaultTTL
	if raw := os.Getenv("LOBBY_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ttl = d
		} else {
			log.Warnf("ignoring invalid LOBBY_TTL %q", raw)
		}
	}
	return &Service{
		store: st,
		hub:   b,
		log:   log,
		locks: newLockTable(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		TTL:   ttl,
		Now:   time.Now,
	}
}

func (s *Service) now() time.Time { return s.Now().UTC() }

// getLive loads a lobby and rejects terminal states.
func (s *Service) getLive(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	lobby, err := s.store.GetLobby(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLobbyInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load lobby %s: %w", id, err)
	}
	if lobby.Disbanded {
		return nil, ErrLobbyInvalid
	}
	if lobby.HasExpired(s.now()) {
		return nil, ErrLobbyExpired
	}
	return lobby, nil
}

// commit chains the new events into the lobby digest, persists lobby and
// events as one unit, and hands accepted events to the historian feed.
// Broadcasting is the caller's final step so disband can substitute a
// force-disconnect for the routine update.
func (s *Service) commit(ctx context.Context, lobby *models.Lobby, events []*models.Event) error {
	for _, ev := range events {
		lobby.EventDigest = AdvanceDigest(lobby.EventDigest, ev.ID)
	}
	if err := s.store.SaveMutation(ctx, lobby, events); err != nil {
		return fmt.Errorf("save lobby %s: %w", lobby.ID, err)
	}
	if s.Publish != nil {
		for _, ev := range events {
			if err := s.Publish(ctx, ev); err != nil {
				s.log.WithError(err).Warnf("historian publish failed for event %s", ev.ID)
			}
		}
	}
	return nil
}

// CreateLobby validates options, allocates a unique join code, and seeds the
// ledger. The creator joins separately via JoinLobby.
func (s *Service) CreateLobby(ctx context.Context, opts models.LobbyOptions) (*models.Lobby, error) {
	if opts.MaxPlayers < MinPlayers || opts.MaxPlayers > MaxPlayers {
		return nil, ErrInvalidOptions
	}
	if opts.BankBalance < 0 || opts.StartingBalance < 0 {
		return nil, ErrInvalidOptions
	}
	if !opts.UnlimitedBank && opts.StartingBalance >= opts.BankBalance {
		return nil, ErrInvalidOptions
	}
	if !models.ValidCurrencies[opts.Currency] {
		return nil, ErrInvalidOptions
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	lobby := &models.Lobby{
		ID:          uuid.New(),
		Code:        code,
		Created:     now,
		Expires:     now.Add(s.TTL),
		Options:     opts,
		Bank:        opts.BankBalance,
		FreeParking: 0,
		Players:     []*models.Player{},
	}
	lobby.EventDigest = SeedDigest(lobby.ID)

	if err := s.store.InsertLobby(ctx, lobby); err != nil {
		return nil, fmt.Errorf("insert lobby: %w", err)
	}
	s.log.Infof("lobby %s created with code %s", lobby.ID, lobby.Code)
	return lobby, nil
}

// JoinLobby admits a player by join code. The first member becomes banker. A
// name already held by a current member (case-insensitive) re-attaches that
// player instead of seating a new one, so a dropped client can resume.
func (s *Service) JoinLobby(ctx context.Context, code, name string) (*models.Lobby, *models.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" || nameBlacklist[strings.ToLower(name)] {
		return nil, nil, ErrNameRejected
	}

	found, err := s.store.FindLobbyByCode(ctx, strings.ToUpper(code), s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrLobbyNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find lobby by code: %w", err)
	}

	mu := s.locks.get(found.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-fetch under the lobby lock; the code lookup raced other writers.
	lobby, err := s.getLive(ctx, found.ID)
	if err != nil {
		if e := AsError(err); e != nil {
			return nil, nil, ErrLobbyNotFound
		}
		return nil, nil, err
	}

	if existing := lobby.GetPlayerByName(name); existing != nil {
		return lobby, existing, nil
	}

	if len(lobby.Players) >= lobby.Options.MaxPlayers {
		return nil, nil, ErrLobbyFull
	}

	now := s.now()
	player := &models.Player{
		ID:      uuid.New(),
		Name:    name,
		Balance: lobby.Options.StartingBalance,
	}
	lobby.Players = append(lobby.Players, player)
	lobby.Bank -= player.Balance

	events := []*models.Event{
		models.NewEvent(lobby.ID, now, models.EventPlayerJoin,
			models.PlayerInsert(player.ID)),
		models.NewEvent(lobby.ID, now, models.EventBankTransferStart,
			models.CurrencyInsert(player.Balance),
			models.PlayerInsert(player.ID)),
	}
	if len(lobby.Players) == 1 {
		lobby.Banker = player.ID
		events = append(events, models.NewEvent(lobby.ID, now, models.EventPlayerMadeBanker,
			models.PlayerInsert(player.ID)))
	}

	if err := s.commit(ctx, lobby, events); err != nil {
		return nil, nil, err
	}
	s.hub.PushUpdate(lobby, events)
	s.log.Infof("player %s (%s) joined lobby %s", player.ID, player.Name, lobby.ID)
	return lobby, player, nil
}

// resolveBalance maps an entity to a live balance accessor within the lobby.
// self has already been rewritten to the actor's player entity by the caller.
func resolveBalance(lobby *models.Lobby, ent models.Entity) (get func() int, set func(int), ok bool) {
	switch ent.Kind {
	case models.EntityBank:
		return func() int { return lobby.Bank }, func(v int) { lobby.Bank = v }, true
	case models.EntityFreeParking:
		if !lobby.Options.FreeParking {
			return nil, nil, false
		}
		return func() int { return lobby.FreeParking }, func(v int) { lobby.FreeParking = v }, true
	case models.EntityPlayer:
		p := lobby.GetPlayer(ent.PlayerID)
		if p == nil {
			return nil, nil, false
		}
		return func() int { return p.Balance }, func(v int) { p.Balance = v }, true
	}
	return nil, nil, false
}

// insertFor renders the event insert describing one side of a transfer.
func insertFor(ent models.Entity, actorID uuid.UUID) models.Insert {
	switch ent.Kind {
	case models.EntityBank:
		return models.BundleInsert(models.BundleTransferBank)
	case models.EntityFreeParking:
		return models.BundleInsert(models.BundleTransferFP)
	default:
		if ent.PlayerID == actorID {
			return models.BundleInsert(models.BundleTransferSelf)
		}
		return models.PlayerInsert(ent.PlayerID)
	}
}

// Transfer moves amount from source to destination. Any player may move their
// own money; only the banker may move the bank's, the pool's, or another
// player's. The debit and credit apply atomically with the Transferred event;
// a rejection leaves every balance unchanged.
func (s *Service) Transfer(ctx context.Context, lobbyID, actorID uuid.UUID, source, destination models.Entity, amount int) (*models.Lobby, error) {
	if amount <= 0 {
		return nil, ErrInvalidOptions
	}

	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	lobby, err := s.getLive(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	actor := lobby.GetPlayer(actorID)
	if actor == nil {
		return nil, ErrPlayerNotActive
	}

	// Resolve SELF once, here at the boundary; nothing downstream
	// re-interprets tokens.
	if source.Kind == models.EntitySelf {
		source = models.Entity{Kind: models.EntityPlayer, PlayerID: actorID}
	}
	if destination.Kind == models.EntitySelf {
		destination = models.Entity{Kind: models.EntityPlayer, PlayerID: actorID}
	}

	fromSelf := source.Kind == models.EntityPlayer && source.PlayerID == actorID
	if !fromSelf && lobby.Banker != actorID {
		return nil, ErrNotBanker
	}

	getSrc, setSrc, ok := resolveBalance(lobby, source)
	if !ok {
		return nil, ErrInvalidSource
	}
	getDst, setDst, ok := resolveBalance(lobby, destination)
	if !ok {
		return nil, ErrInvalidDestination
	}

	bankUnlimited := source.Kind == models.EntityBank && lobby.Options.UnlimitedBank
	if !bankUnlimited && getSrc() < amount {
		return nil, ErrInsufficientFunds
	}

	setSrc(getSrc() - amount)
	setDst(getDst() + amount)

	ev := models.NewEvent(lobby.ID, s.now(), models.EventTransfer,
		models.PlayerInsert(actorID),
		models.CurrencyInsert(amount),
		insertFor(source, actorID),
		insertFor(destination, actorID),
	)

	if err := s.commit(ctx, lobby, []*models.Event{ev}); err != nil {
		return nil, err
	}
	s.hub.PushUpdate(lobby, []*models.Event{ev})
	return lobby, nil
}

// PromoteBanker reassigns the banker role. Banker-only.
func (s *Service) PromoteBanker(ctx context.Context, lobbyID, actorID, targetID uuid.UUID) (*models.Lobby, error) {
	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	lobby, err := s.getLive(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	if lobby.Banker != actorID {
		return nil, ErrNotBanker
	}
	target := lobby.GetPlayer(targetID)
	if target == nil {
		return nil, ErrPlayerNotFound
	}

	lobby.Banker = target.ID
	ev := models.NewEvent(lobby.ID, s.now(), models.EventBankerTransferred,
		models.PlayerInsert(actorID),
		models.PlayerInsert(target.ID),
	)

	if err := s.commit(ctx, lobby, []*models.Event{ev}); err != nil {
		return nil, err
	}
	s.hub.PushUpdate(lobby, []*models.Event{ev})
	return lobby, nil
}

// LeaveLobby removes the calling player, returning their balance to the
// bank. The banker cannot leave; the role must be handed off first, which is
// what keeps the ledger from losing its only authority.
func (s *Service) LeaveLobby(ctx context.Context, lobbyID, actorID uuid.UUID) error {
	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	lobby, err := s.getLive(ctx, lobbyID)
	if err != nil {
		return err
	}
	if lobby.GetPlayer(actorID) == nil {
		return ErrPlayerNotActive
	}
	if lobby.Banker == actorID {
		return ErrBankerCannotLeave
	}

	removed := lobby.RemovePlayer(actorID)
	lobby.Bank += removed.Balance
	ev := models.NewEvent(lobby.ID, s.now(), models.EventPlayerLeave)

	if err := s.commit(ctx, lobby, []*models.Event{ev}); err != nil {
		return err
	}
	s.hub.PushUpdate(lobby, []*models.Event{ev})
	s.hub.PushForceDisconnect(lobby.ID, &actorID)
	return nil
}

// Kick ejects another player, returning their balance to the bank.
// Banker-only; the banker cannot kick themself.
func (s *Service) Kick(ctx context.Context, lobbyID, actorID, targetID uuid.UUID) (*models.Lobby, error) {
	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	lobby, err := s.getLive(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	if lobby.Banker != actorID {
		return nil, ErrNotBanker
	}
	if targetID == actorID {
		return nil, ErrCannotKickSelf
	}
	removed := lobby.RemovePlayer(targetID)
	if removed == nil {
		return nil, ErrPlayerNotFound
	}

	lobby.Bank += removed.Balance
	ev := models.NewEvent(lobby.ID, s.now(), models.EventPlayerKick)

	if err := s.commit(ctx, lobby, []*models.Event{ev}); err != nil {
		return nil, err
	}
	s.hub.PushUpdate(lobby, []*models.Event{ev})
	s.hub.PushForceDisconnect(lobby.ID, &targetID)
	return lobby, nil
}

// Disband terminally closes the lobby. Banker-only. Observers receive a
// force-disconnect instead of a routine update.
func (s *Service) Disband(ctx context.Context, lobbyID, actorID uuid.UUID) error {
	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()

	lobby, err := s.getLive(ctx, lobbyID)
	if err != nil {
		return err
	}
	if lobby.Banker != actorID {
		return ErrNotBanker
	}

	lobby.Disbanded = true
	ev := models.NewEvent(lobby.ID, s.now(), models.EventDisbanded)

	if err := s.commit(ctx, lobby, []*models.Event{ev}); err != nil {
		return err
	}
	s.hub.PushForceDisconnect(lobby.ID, nil)
	s.locks.release(lobbyID)
	s.log.Infof("lobby %s disbanded", lobby.ID)
	return nil
}

// ReleaseLock drops the per-lobby mutex for a lobby that no longer exists.
// Called by the cleaner after it deletes expired lobbies; Disband releases
// its own entry.
func (s *Service) ReleaseLock(lobbyID uuid.UUID) {
	s.locks.release(lobbyID)
}

// Snapshot returns a point-in-time copy of the lobby taken under the same
// exclusion as mutations, so a poll never observes a half-applied transfer.
func (s *Service) Snapshot(ctx context.Context, lobbyID uuid.UUID) (*models.Lobby, error) {
	mu := s.locks.get(lobbyID)
	mu.Lock()
	defer mu.Unlock()
	return s.getLive(ctx, lobbyID)
}

// Events lists a lobby's event log in the caller's chosen time direction.
func (s *Service) Events(ctx context.Context, lobbyID uuid.UUID, order store.Order) ([]*models.Event, error) {
	return s.store.ListEventsByLobby(ctx, lobbyID, order)
}
