// cmd/historian/main.go is an asynchronous worker that pops accepted ledger
// events from the Redis queue and archives them to PostgreSQL, keeping the
// audit trail even after the cleaner reclaims a lobby's primary rows.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spgill/banker/internal/cache"
)

// HistorianService encapsulates the Redis + DB logic for archiving ledger
// events in batches.
type HistorianService struct {
	redisClient *redis.Client
	pool        *pgxpool.Pool
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []cache.LedgerEventRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs a HistorianService from environment
// variables or defaults.
func NewHistorianService() *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]cache.LedgerEventRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and drains the queue until interrupted.
func (hs *HistorianService) Run() {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)
	pool, err := pgxpool.New(hs.ctx, connStr)
	if err != nil {
		log.Fatalf("unable to create pgx pool: %v", err)
	}
	hs.pool = pool

	go hs.readRedisLoop()

	log.Println("banker-historian service started.")
	<-hs.ctx.Done()
	hs.flushBatchToDB()
	log.Println("banker-historian shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve events from the queue,
// flushing accumulated batches on a timer.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("HISTORIAN_QUEUE_NAME", cache.DefaultQueueName)

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if hs.ctx.Err() != nil {
					return
				}
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			var record cache.LedgerEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid event record: %v\n", err)
				continue
			}

			hs.batchMu.Lock()
			hs.batch = append(hs.batch, record)
			full := len(hs.batch) >= hs.batchSize
			hs.batchMu.Unlock()

			if full {
				hs.flushBatchToDB()
			}
		}
	}
}

// flushBatchToDB writes the pending batch to the events_archive table in one
// transaction.
func (hs *HistorianService) flushBatchToDB() {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return
	}
	pending := hs.batch
	hs.batch = make([]cache.LedgerEventRecord, 0, hs.batchSize)
	hs.batchMu.Unlock()

	q := `
	INSERT INTO events_archive (event_id, lobby_id, time, key, inserts)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING
	`
	err := pgx.BeginTxFunc(hs.ctx, hs.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range pending {
			insertsJSON, err := json.Marshal(rec.Inserts)
			if err != nil {
				return err
			}
			_, err = tx.Exec(hs.ctx, q,
				rec.EventID,
				rec.LobbyID,
				time.UnixMilli(rec.Timestamp).UTC(),
				rec.Key,
				insertsJSON,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] archiving %d events: %v\n", len(pending), err)
		return
	}
	log.Printf("archived %d events\n", len(pending))
}

func main() {
	hs := NewHistorianService()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		hs.cancelFn()
	}()

	hs.Run()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
