// internal/handlers/api_server.go
package handlers

import (
	"github.com/sirupsen/logrus"
	"github.com/spgill/banker/internal/hub"
	"github.com/spgill/banker/internal/ledger"
	"github.com/spgill/banker/internal/session"
	"github.com/spgill/banker/internal/store"
)

// Server bundles the collaborators the HTTP/WS shell dispatches into: the
// ledger core, the session gate, and the broadcast hub. The shell itself is
// deliberately thin; every invariant lives below it.
type Server struct {
	Store  store.Store
	Ledger *ledger.Service
	Gate   *session.Gate
	Hub    *hub.Hub
	Logger *logrus.Logger
}

// NewServer wires a Server over a store, constructing the ledger, gate, and
// hub it dispatches into.
func NewServer(st store.Store, logger *logrus.Logger) *Server {
	h := hub.New(logger)
	return &Server{
		Store:  st,
		Ledger: ledger.NewService(st, h, logger),
		Gate:   session.NewGate(st),
		Hub:    h,
		Logger: logger,
	}
}
