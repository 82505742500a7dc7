// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spgill/banker/internal/models"
)

// PostgresStore implements Store on a pgx connection pool. Lobby membership
// and options are stored as JSONB so a mutation is a single whole-row
// replace, matching the document semantics the ledger relies on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres builds a pool from the POSTGRES_* / PG_* environment
// variables and pings it.
func ConnectPostgres(ctx context.Context) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) InsertLobby(ctx context.Context, lobby *models.Lobby) error {
	optionsJSON, playersJSON, err := marshalLobbyDocs(lobby)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO lobbies (
		id, code, created, expires, disbanded,
		options, bank, free_parking, banker, players, event_digest
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			lobby.ID,
			lobby.Code,
			lobby.Created,
			lobby.Expires,
			lobby.Disbanded,
			optionsJSON,
			lobby.Bank,
			lobby.FreeParking,
			nullableUUID(lobby.Banker),
			playersJSON,
			lobby.EventDigest,
		)
		return err
	})
}

const lobbyColumns = `
	id, code, created, expires, disbanded,
	options, bank, free_parking, banker, players, event_digest
`

func (s *PostgresStore) GetLobby(ctx context.Context, id uuid.UUID) (*models.Lobby, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id = $1`, id)
	return scanLobby(row)
}

func (s *PostgresStore) FindLobbyByCode(ctx context.Context, code string, now time.Time) (*models.Lobby, error) {
	q := `
	SELECT ` + lobbyColumns + `
	FROM lobbies
	WHERE code = $1 AND NOT disbanded AND expires > $2
	`
	row := s.pool.QueryRow(ctx, q, code, now)
	return scanLobby(row)
}

func (s *PostgresStore) CodeInUse(ctx context.Context, code string, now time.Time) (bool, error) {
	q := `
	SELECT 1
	  FROM lobbies
	  WHERE code = $1 AND NOT disbanded AND expires > $2
	  LIMIT 1
	`
	var tmp int
	err := s.pool.QueryRow(ctx, q, code, now).Scan(&tmp)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) SaveMutation(ctx context.Context, lobby *models.Lobby, events []*models.Event) error {
	optionsJSON, playersJSON, err := marshalLobbyDocs(lobby)
	if err != nil {
		return err
	}
	replace := `
	UPDATE lobbies SET
		code = $2, created = $3, expires = $4, disbanded = $5,
		options = $6, bank = $7, free_parking = $8, banker = $9,
		players = $10, event_digest = $11
	WHERE id = $1
	`
	insertEvent := `
	INSERT INTO events (id, lobby_id, time, key, inserts)
	VALUES ($1, $2, $3, $4, $5)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, replace,
			lobby.ID,
			lobby.Code,
			lobby.Created,
			lobby.Expires,
			lobby.Disbanded,
			optionsJSON,
			lobby.Bank,
			lobby.FreeParking,
			nullableUUID(lobby.Banker),
			playersJSON,
			lobby.EventDigest,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		for _, ev := range events {
			insertsJSON, err := json.Marshal(ev.Inserts)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, insertEvent, ev.ID, ev.LobbyID, ev.Time, ev.Key, insertsJSON); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListEventsByLobby(ctx context.Context, lobbyID uuid.UUID, order Order) ([]*models.Event, error) {
	dir := "ASC"
	if order == Descending {
		dir = "DESC"
	}
	// seq (bigserial) breaks timestamp ties: one mutation can emit several
	// events at the same instant, and the listing must reproduce append
	// order exactly or digest recomputation from it diverges.
	q := `
	SELECT id, lobby_id, time, key, inserts
	FROM events
	WHERE lobby_id = $1
	ORDER BY time ` + dir + `, seq ` + dir
	rows, err := s.pool.Query(ctx, q, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var ev models.Event
		var insertsJSON []byte
		if err := rows.Scan(&ev.ID, &ev.LobbyID, &ev.Time, &ev.Key, &insertsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(insertsJSON, &ev.Inserts); err != nil {
			return nil, fmt.Errorf("decode event inserts: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var removed []uuid.UUID
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM events WHERE lobby_id IN (SELECT id FROM lobbies WHERE expires < $1)
		`, cutoff)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `DELETE FROM lobbies WHERE expires < $1 RETURNING id`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			removed = append(removed, id)
		}
		return rows.Err()
	})
	return removed, err
}

func marshalLobbyDocs(lobby *models.Lobby) (optionsJSON, playersJSON []byte, err error) {
	optionsJSON, err = json.Marshal(lobby.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("encode lobby options: %w", err)
	}
	playersJSON, err = json.Marshal(lobby.Players)
	if err != nil {
		return nil, nil, fmt.Errorf("encode lobby players: %w", err)
	}
	return optionsJSON, playersJSON, nil
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func scanLobby(row pgx.Row) (*models.Lobby, error) {
	var l models.Lobby
	var optionsJSON, playersJSON []byte
	var banker *uuid.UUID
	err := row.Scan(
		&l.ID,
		&l.Code,
		&l.Created,
		&l.Expires,
		&l.Disbanded,
		&optionsJSON,
		&l.Bank,
		&l.FreeParking,
		&banker,
		&playersJSON,
		&l.EventDigest,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if banker != nil {
		l.Banker = *banker
	}
	if err := json.Unmarshal(optionsJSON, &l.Options); err != nil {
		return nil, fmt.Errorf("decode lobby options: %w", err)
	}
	if err := json.Unmarshal(playersJSON, &l.Players); err != nil {
		return nil, fmt.Errorf("decode lobby players: %w", err)
	}
	return &l, nil
}
