// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/spgill/banker/internal/cache"
	"github.com/spgill/banker/internal/cleaner"
	"github.com/spgill/banker/internal/handlers"
	"github.com/spgill/banker/internal/middleware"
	"github.com/spgill/banker/internal/session"
	"github.com/spgill/banker/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	session.Init()

	ctx := context.Background()

	// Postgres is the primary store when configured; without it the server
	// runs on the in-memory store (single node, no durability).
	var st store.Store
	if os.Getenv("PG_HOST") != "" {
		pg, err := store.ConnectPostgres(ctx)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Warn("PG_HOST not set; using in-memory store")
	}

	srv := handlers.NewServer(st, logger)

	// Event feed for the historian worker, when redis is available.
	if os.Getenv("REDIS_ADDR") != "" {
		if err := cache.ConnectRedis(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		srv.Ledger.Publish = cache.PublishLedgerEvent
		logger.Info("publishing events to historian queue")
	}

	go cleaner.Run(ctx, st, logger, srv.Ledger.ReleaseLock)

	logged := middleware.LogMiddleware(logger)

	mux := http.NewServeMux()
	mux.Handle("/api/create", logged(http.HandlerFunc(srv.CreateHandler)))
	mux.Handle("/api/join", logged(http.HandlerFunc(srv.JoinHandler)))
	mux.Handle("/api/preflight", logged(http.HandlerFunc(srv.PreflightHandler)))
	mux.Handle("/api/poll", logged(http.HandlerFunc(srv.PollHandler)))
	mux.Handle("/api/events", logged(http.HandlerFunc(srv.EventsHandler)))
	mux.Handle("/api/transfer", logged(http.HandlerFunc(srv.TransferHandler)))
	mux.Handle("/api/banker", logged(http.HandlerFunc(srv.BankerHandler)))
	mux.Handle("/api/leave", logged(http.HandlerFunc(srv.LeaveHandler)))
	mux.Handle("/api/kick", logged(http.HandlerFunc(srv.KickHandler)))
	mux.Handle("/api/disband", logged(http.HandlerFunc(srv.DisbandHandler)))
	mux.Handle("/api/events/ws", http.HandlerFunc(srv.EventsWSHandler))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
