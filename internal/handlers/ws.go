// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/spgill/banker/internal/hub"
	"github.com/spgill/banker/internal/middleware"
	"github.com/spgill/banker/internal/store"
)

// EventsWSHandler attaches an observer stream to the caller's lobby. On
// connect the full ordered event history plus the current snapshot is
// replayed, then the connection is registered for live updates; a newly
// attached observer never misses prior state.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	lobby, player, err := s.Gate.Validate(r.Context(), sessionToken(r))
	if err != nil {
		respondError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")
	middleware.LogObserverConnect(s.Logger, remoteAddr, lobby.ID, player.ID)

	// Replay history before registration so the backlog frame always
	// precedes any live update on this connection.
	history, err := s.Ledger.Events(r.Context(), lobby.ID, store.Ascending)
	if err != nil {
		s.Logger.WithError(err).Warnf("failed to load event history for lobby %s", lobby.ID)
		c.Close(websocket.StatusInternalError, "history unavailable")
		return
	}

	conn := hub.NewConn(player.ID)
	s.Hub.PushTo(conn, lobby, history)
	s.Hub.Register(lobby.ID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, c, conn)

	// Read loop: observers never send data frames; reading just detects
	// disconnects (and drains client pings).
	readErr := s.readUntilClosed(ctx, c, conn)

	s.Hub.Unregister(lobby.ID, conn)
	conn.Close()
	middleware.LogObserverDisconnect(s.Logger, remoteAddr, lobby.ID, player.ID, readErr)
}

func (s *Server) readUntilClosed(ctx context.Context, c *websocket.Conn, conn *hub.Conn) error {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			select {
			case <-conn.Done():
				// The write pump already closed the transport after a
				// force-disconnect; this read error is the echo of that.
				return nil
			default:
			}
			return err
		}
	}
}

// writePump drains the hub connection's frame buffer onto the websocket and
// keeps the peer alive with periodic pings. On a force-disconnect it flushes
// whatever frames remain (the kick control frame is enqueued just before the
// hub closes the conn) and then closes the transport, which unblocks the read
// loop.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *hub.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			s.flushFrames(ctx, c, conn)
			c.Close(websocket.StatusNormalClosure, "disconnected by lobby")
			return
		case frame := <-conn.Out():
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to write to websocket for player %s: %v", conn.PlayerID, err)
				conn.Close()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Logger.Warnf("failed to ping player %s: %v. Assuming disconnect.", conn.PlayerID, err)
				conn.Close()
				return
			}
		}
	}
}

// flushFrames writes any frames still buffered on the hub conn without
// blocking for new ones.
func (s *Server) flushFrames(ctx context.Context, c *websocket.Conn, conn *hub.Conn) {
	for {
		select {
		case frame := <-conn.Out():
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		default:
			return
		}
	}
}
