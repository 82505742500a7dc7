// internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spgill/banker/internal/models"
	"github.com/spgill/banker/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHub collects pushes instead of fanning out over websockets.
type recordingHub struct {
	mu      sync.Mutex
	updates [][]*models.Event
	kicks   []*uuid.UUID
}

func (r *recordingHub) PushUpdate(lobby *models.Lobby, events []*models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, events)
}

func (r *recordingHub) PushForceDisconnect(lobbyID uuid.UUID, target *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicks = append(r.kicks, target)
}

func (r *recordingHub) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func setupService(t *testing.T) (*Service, *store.MemoryStore, *recordingHub) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := &recordingHub{}
	svc := NewService(st, rec, testLogger())
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return base }
	return svc, st, rec
}

func defaultOptions() models.LobbyOptions {
	return models.LobbyOptions{
		UnlimitedBank:   false,
		FreeParking:     true,
		MaxPlayers:      4,
		BankBalance:     15140,
		StartingBalance: 1500,
		Currency:        models.CurrencyDollars,
	}
}

// setupLobbyWithPlayers creates a lobby and seats the named players in order.
func setupLobbyWithPlayers(t *testing.T, svc *Service, names ...string) (*models.Lobby, []*models.Player) {
	t.Helper()
	ctx := context.Background()
	lobby, err := svc.CreateLobby(ctx, defaultOptions())
	require.NoError(t, err)

	players := make([]*models.Player, len(names))
	for i, name := range names {
		var p *models.Player
		lobby, p, err = svc.JoinLobby(ctx, lobby.Code, name)
		require.NoError(t, err)
		players[i] = p
	}
	return lobby, players
}

func playerEntity(id uuid.UUID) models.Entity {
	return models.Entity{Kind: models.EntityPlayer, PlayerID: id}
}

var (
	selfEntity = models.Entity{Kind: models.EntitySelf}
	bankEntity = models.Entity{Kind: models.EntityBank}
	fpEntity   = models.Entity{Kind: models.EntityFreeParking}
)

func TestCreateLobbyValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.LobbyOptions)
	}{
		{"too few players", func(o *models.LobbyOptions) { o.MaxPlayers = 1 }},
		{"too many players", func(o *models.LobbyOptions) { o.MaxPlayers = 51 }},
		{"negative bank", func(o *models.LobbyOptions) { o.BankBalance = -1 }},
		{"negative starting balance", func(o *models.LobbyOptions) { o.StartingBalance = -5 }},
		{"starting exceeds bank", func(o *models.LobbyOptions) { o.StartingBalance = 20000 }},
		{"unknown currency", func(o *models.LobbyOptions) { o.Currency = "₿" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := defaultOptions()
			tc.mutate(&opts)
			_, err := svc.CreateLobby(ctx, opts)
			require.Equal(t, ErrInvalidOptions, err)
		})
	}
}

func TestCreateLobbySeedsLedger(t *testing.T) {
	svc, _, _ := setupService(t)
	lobby, err := svc.CreateLobby(context.Background(), defaultOptions())
	require.NoError(t, err)

	assert.Len(t, lobby.Code, CodeLength)
	assert.Equal(t, 15140, lobby.Bank)
	assert.Equal(t, 0, lobby.FreeParking)
	assert.Equal(t, uuid.Nil, lobby.Banker)
	assert.Empty(t, lobby.Players)
	assert.Equal(t, SeedDigest(lobby.ID), lobby.EventDigest)
	assert.Equal(t, svc.Now().UTC().Add(svc.TTL), lobby.Expires)
}

func TestJoinLobby(t *testing.T) {
	svc, _, rec := setupService(t)
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	// First joiner is banker; both were seeded from the bank.
	assert.Equal(t, alice.ID, lobby.Banker)
	assert.Equal(t, 15140-1500-1500, lobby.Bank)
	assert.Equal(t, 1500, bob.Balance)
	assert.Equal(t, 15140, lobby.Total())

	// Alice's join produced join + seed transfer + banker assignment; Bob's
	// only the first two.
	require.Equal(t, 2, rec.updateCount())
	keys := func(events []*models.Event) []string {
		out := make([]string, len(events))
		for i, ev := range events {
			out[i] = ev.Key
		}
		return out
	}
	assert.Equal(t, []string{models.EventPlayerJoin, models.EventBankTransferStart, models.EventPlayerMadeBanker}, keys(rec.updates[0]))
	assert.Equal(t, []string{models.EventPlayerJoin, models.EventBankTransferStart}, keys(rec.updates[1]))
}

func TestJoinLobbyFailures(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, _ := setupLobbyWithPlayers(t, svc, "Alice")

	_, _, err := svc.JoinLobby(ctx, "ZZZZ", "Carol")
	assert.Equal(t, ErrLobbyNotFound, err)

	_, _, err = svc.JoinLobby(ctx, lobby.Code, "The Bank")
	assert.Equal(t, ErrNameRejected, err)

	_, _, err = svc.JoinLobby(ctx, lobby.Code, "  ")
	assert.Equal(t, ErrNameRejected, err)
}

func TestJoinLobbyFull(t *testing.T) {
	svc, _, _ := setupService(t)
	lobby, _ := setupLobbyWithPlayers(t, svc, "P1", "P2", "P3", "P4")

	_, _, err := svc.JoinLobby(context.Background(), lobby.Code, "P5")
	assert.Equal(t, ErrLobbyFull, err)
}

func TestJoinLobbyRejoinByName(t *testing.T) {
	svc, _, rec := setupService(t)
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	before := rec.updateCount()

	// Same name (case-insensitive) re-attaches instead of seating a new
	// player or debiting the bank again.
	rejoined, p, err := svc.JoinLobby(context.Background(), lobby.Code, "alice")
	require.NoError(t, err)
	assert.Equal(t, players[0].ID, p.ID)
	assert.Len(t, rejoined.Players, 2)
	assert.Equal(t, 15140, rejoined.Total())
	assert.Equal(t, before, rec.updateCount())
}

// TestTransferScenario walks the worked example: two joins, a bank transfer
// by the banker, then an over-balance transfer that must be rejected without
// touching state.
func TestTransferScenario(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	require.Equal(t, 12140, lobby.Bank)

	updated, err := svc.Transfer(ctx, lobby.ID, alice.ID, bankEntity, playerEntity(bob.ID), 500)
	require.NoError(t, err)
	assert.Equal(t, 11640, updated.Bank)
	assert.Equal(t, 2000, updated.GetPlayer(bob.ID).Balance)
	assert.Equal(t, 15140, updated.Total())

	digestBefore := updated.EventDigest
	_, err = svc.Transfer(ctx, lobby.ID, bob.ID, selfEntity, bankEntity, 3000)
	require.Equal(t, ErrInsufficientFunds, err)

	// Rejection leaves everything byte-for-byte unchanged.
	snap, err := svc.Snapshot(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, 11640, snap.Bank)
	assert.Equal(t, 2000, snap.GetPlayer(bob.ID).Balance)
	assert.Equal(t, digestBefore, snap.EventDigest)
}

func TestTransferAuthorization(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	bob := players[1]

	digestBefore := mustSnapshot(t, svc, lobby.ID).EventDigest
	eventsBefore := len(mustEvents(t, svc, lobby.ID))

	// Non-banker may not move the bank's money.
	_, err := svc.Transfer(ctx, lobby.ID, bob.ID, bankEntity, selfEntity, 100)
	require.Equal(t, ErrNotBanker, err)

	// No event appended, digest unchanged.
	assert.Equal(t, digestBefore, mustSnapshot(t, svc, lobby.ID).EventDigest)
	assert.Len(t, mustEvents(t, svc, lobby.ID), eventsBefore)

	// Nor another player's.
	_, err = svc.Transfer(ctx, lobby.ID, bob.ID, playerEntity(players[0].ID), selfEntity, 100)
	assert.Equal(t, ErrNotBanker, err)

	// Anyone may move their own.
	updated, err := svc.Transfer(ctx, lobby.ID, bob.ID, selfEntity, fpEntity, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.FreeParking)
	assert.Equal(t, 1400, updated.GetPlayer(bob.ID).Balance)
}

func TestTransferEntityResolution(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice := players[0]

	_, err := svc.Transfer(ctx, lobby.ID, alice.ID, playerEntity(uuid.New()), selfEntity, 10)
	assert.Equal(t, ErrInvalidSource, err)

	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, selfEntity, playerEntity(uuid.New()), 10)
	assert.Equal(t, ErrInvalidDestination, err)

	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, selfEntity, bankEntity, 0)
	assert.Equal(t, ErrInvalidOptions, err)

	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, selfEntity, bankEntity, -5)
	assert.Equal(t, ErrInvalidOptions, err)
}

func TestTransferFreeParkingDisabled(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	opts := defaultOptions()
	opts.FreeParking = false
	lobby, err := svc.CreateLobby(ctx, opts)
	require.NoError(t, err)
	lobby, alice, err := svc.JoinLobby(ctx, lobby.Code, "Alice")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, selfEntity, fpEntity, 100)
	assert.Equal(t, ErrInvalidDestination, err)

	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, fpEntity, selfEntity, 100)
	assert.Equal(t, ErrInvalidSource, err)

	lobby2, err := svc.Snapshot(ctx, lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, lobby2.FreeParking)
}

func TestTransferUnlimitedBank(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	opts := defaultOptions()
	opts.UnlimitedBank = true
	opts.BankBalance = 100
	opts.StartingBalance = 1500
	lobby, err := svc.CreateLobby(ctx, opts)
	require.NoError(t, err)

	lobby, alice, err := svc.JoinLobby(ctx, lobby.Code, "Alice")
	require.NoError(t, err)
	// Seeding already drove the bank negative; unlimited exempts it from the
	// sufficiency check but the displayed balance keeps tracking.
	assert.Equal(t, -1400, lobby.Bank)

	updated, err := svc.Transfer(ctx, lobby.ID, alice.ID, bankEntity, selfEntity, 10000)
	require.NoError(t, err)
	assert.Equal(t, -11400, updated.Bank)
	assert.Equal(t, 11500, updated.GetPlayer(alice.ID).Balance)
}

func TestTransferEventInserts(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	_, err := svc.Transfer(ctx, lobby.ID, alice.ID, bankEntity, playerEntity(bob.ID), 500)
	require.NoError(t, err)

	rec.mu.Lock()
	last := rec.updates[len(rec.updates)-1]
	rec.mu.Unlock()
	require.Len(t, last, 1)
	ev := last[0]
	require.Equal(t, models.EventTransfer, ev.Key)
	require.Len(t, ev.Inserts, 4)
	assert.Equal(t, models.PlayerInsert(alice.ID), ev.Inserts[0])
	assert.Equal(t, models.CurrencyInsert(500), ev.Inserts[1])
	assert.Equal(t, models.BundleInsert(models.BundleTransferBank), ev.Inserts[2])
	assert.Equal(t, models.PlayerInsert(bob.ID), ev.Inserts[3])

	// A self-sourced transfer renders "themself" rather than repeating the
	// actor reference.
	_, err = svc.Transfer(ctx, lobby.ID, bob.ID, selfEntity, fpEntity, 50)
	require.NoError(t, err)
	rec.mu.Lock()
	last = rec.updates[len(rec.updates)-1]
	rec.mu.Unlock()
	assert.Equal(t, models.BundleInsert(models.BundleTransferSelf), last[0].Inserts[2])
	assert.Equal(t, models.BundleInsert(models.BundleTransferFP), last[0].Inserts[3])
}

func TestPromoteBanker(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	_, err := svc.PromoteBanker(ctx, lobby.ID, bob.ID, bob.ID)
	assert.Equal(t, ErrNotBanker, err)

	_, err = svc.PromoteBanker(ctx, lobby.ID, alice.ID, uuid.New())
	assert.Equal(t, ErrPlayerNotFound, err)

	updated, err := svc.PromoteBanker(ctx, lobby.ID, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, updated.Banker)

	// Former banker may now leave.
	require.NoError(t, svc.LeaveLobby(ctx, lobby.ID, alice.ID))
}

func TestLeaveLobby(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	// The banker cannot leave; membership unchanged.
	err := svc.LeaveLobby(ctx, lobby.ID, alice.ID)
	require.Equal(t, ErrBankerCannotLeave, err)
	snap := mustSnapshot(t, svc, lobby.ID)
	assert.Len(t, snap.Players, 2)

	require.NoError(t, svc.LeaveLobby(ctx, lobby.ID, bob.ID))
	snap = mustSnapshot(t, svc, lobby.ID)
	assert.Len(t, snap.Players, 1)
	assert.Equal(t, 15140-1500, snap.Bank) // Bob's cash returned
	assert.Equal(t, 15140, snap.Total())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.kicks, 1)
	assert.Equal(t, bob.ID, *rec.kicks[0])
}

func TestKick(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	_, err := svc.Kick(ctx, lobby.ID, bob.ID, alice.ID)
	assert.Equal(t, ErrNotBanker, err)

	_, err = svc.Kick(ctx, lobby.ID, alice.ID, alice.ID)
	assert.Equal(t, ErrCannotKickSelf, err)

	_, err = svc.Kick(ctx, lobby.ID, alice.ID, uuid.New())
	assert.Equal(t, ErrPlayerNotFound, err)

	updated, err := svc.Kick(ctx, lobby.ID, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.GetPlayer(bob.ID))
	assert.Equal(t, 15140-1500, updated.Bank)
	assert.Equal(t, 15140, updated.Total())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.kicks, 1)
	assert.Equal(t, bob.ID, *rec.kicks[0])
}

func TestDisband(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	err := svc.Disband(ctx, lobby.ID, bob.ID)
	assert.Equal(t, ErrNotBanker, err)

	updatesBefore := rec.updateCount()
	require.NoError(t, svc.Disband(ctx, lobby.ID, alice.ID))

	// Disband force-disconnects everyone instead of a routine update.
	assert.Equal(t, updatesBefore, rec.updateCount())
	rec.mu.Lock()
	require.Len(t, rec.kicks, 1)
	assert.Nil(t, rec.kicks[0])
	rec.mu.Unlock()

	// Terminal: every further mutation is rejected.
	_, err = svc.Transfer(ctx, lobby.ID, alice.ID, selfEntity, bankEntity, 1)
	assert.Equal(t, ErrLobbyInvalid, err)
	_, _, err = svc.JoinLobby(ctx, lobby.Code, "Carol")
	assert.Equal(t, ErrLobbyNotFound, err)
}

func TestExpiredLobbyRejectsMutations(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice")

	base := svc.Now()
	svc.Now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }

	_, err := svc.Transfer(ctx, lobby.ID, players[0].ID, selfEntity, bankEntity, 1)
	assert.Equal(t, ErrLobbyExpired, err)
	_, _, err = svc.JoinLobby(ctx, lobby.Code, "Bob")
	assert.Equal(t, ErrLobbyNotFound, err)
}

// TestConservation drives a long mixed sequence of operations and checks the
// ledger total never drifts from its seeded value.
func TestConservation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob", "Carol")
	alice, bob, carol := players[0], players[1], players[2]

	steps := []func() error{
		func() error { _, err := svc.Transfer(ctx, lobby.ID, alice.ID, bankEntity, playerEntity(bob.ID), 200); return err },
		func() error { _, err := svc.Transfer(ctx, lobby.ID, bob.ID, selfEntity, fpEntity, 150); return err },
		func() error { _, err := svc.Transfer(ctx, lobby.ID, carol.ID, selfEntity, playerEntity(alice.ID), 700); return err },
		func() error { _, err := svc.Transfer(ctx, lobby.ID, alice.ID, fpEntity, playerEntity(carol.ID), 150); return err },
		func() error { _, err := svc.Transfer(ctx, lobby.ID, carol.ID, selfEntity, bankEntity, 75); return err },
		func() error { _, err := svc.PromoteBanker(ctx, lobby.ID, alice.ID, bob.ID); return err },
		func() error { return svc.LeaveLobby(ctx, lobby.ID, alice.ID) },
		func() error { _, err := svc.Kick(ctx, lobby.ID, bob.ID, carol.ID); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		snap := mustSnapshot(t, svc, lobby.ID)
		assert.Equal(t, 15140, snap.Total(), "conservation broken after step %d", i)
		for _, p := range snap.Players {
			assert.GreaterOrEqual(t, p.Balance, 0)
		}
	}
}

// TestDigestLockstep recomputes the rolling digest from the stored event
// sequence and requires it to match the lobby's digest exactly.
func TestDigestLockstep(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	alice, bob := players[0], players[1]

	_, err := svc.Transfer(ctx, lobby.ID, alice.ID, bankEntity, playerEntity(bob.ID), 500)
	require.NoError(t, err)
	_, err = svc.PromoteBanker(ctx, lobby.ID, alice.ID, bob.ID)
	require.NoError(t, err)

	events := mustEvents(t, svc, lobby.ID)
	digest := SeedDigest(lobby.ID)
	for _, ev := range events {
		digest = AdvanceDigest(digest, ev.ID)
	}
	assert.Equal(t, digest, mustSnapshot(t, svc, lobby.ID).EventDigest)
}

func TestSingleBankerInvariant(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "A", "B", "C")
	a, b, c := players[0], players[1], players[2]

	_, err := svc.PromoteBanker(ctx, lobby.ID, a.ID, b.ID)
	require.NoError(t, err)
	_, err = svc.Kick(ctx, lobby.ID, b.ID, a.ID)
	require.NoError(t, err)
	_, err = svc.PromoteBanker(ctx, lobby.ID, b.ID, c.ID)
	require.NoError(t, err)
	require.NoError(t, svc.LeaveLobby(ctx, lobby.ID, b.ID))

	snap := mustSnapshot(t, svc, lobby.ID)
	require.Equal(t, c.ID, snap.Banker)
	assert.NotNil(t, snap.GetPlayer(snap.Banker), "banker must be a current member")
}

// The per-lobby lock entry must not outlive the lobby: Disband drops its own
// entry and the cleaner's prune hook drops entries for swept lobbies.
func TestLockTablePruning(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	lobby, players := setupLobbyWithPlayers(t, svc, "Alice", "Bob")
	require.Equal(t, 1, svc.locks.size())

	require.NoError(t, svc.Disband(ctx, lobby.ID, players[0].ID))
	assert.Equal(t, 0, svc.locks.size())

	// A straggler touching the dead lobby recreates an entry; the cleaner
	// hook releases it.
	_, err := svc.Snapshot(ctx, lobby.ID)
	require.Equal(t, ErrLobbyInvalid, err)
	require.Equal(t, 1, svc.locks.size())
	svc.ReleaseLock(lobby.ID)
	assert.Equal(t, 0, svc.locks.size())
}

func mustSnapshot(t *testing.T, svc *Service, id uuid.UUID) *models.Lobby {
	t.Helper()
	snap, err := svc.Snapshot(context.Background(), id)
	require.NoError(t, err)
	return snap
}

func mustEvents(t *testing.T, svc *Service, id uuid.UUID) []*models.Event {
	t.Helper()
	events, err := svc.Events(context.Background(), id, store.Ascending)
	require.NoError(t, err)
	return events
}
