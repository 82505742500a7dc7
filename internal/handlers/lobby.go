// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/spgill/banker/internal/ledger"
	"github.com/spgill/banker/internal/models"
	"github.com/spgill/banker/internal/session"
	"github.com/spgill/banker/internal/store"
)

// joinForm is the body of POST /api/join.
type joinForm struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// transferForm is the body of POST /api/transfer. Source and destination are
// reserved entity tokens or player id strings.
type transferForm struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int    `json:"amount"`
}

// targetForm is the body of banker-promotion and kick requests.
type targetForm struct {
	Target string `json:"target"`
}

// withSession resolves the caller's actor token through the gate before
// running fn. Any gate failure clears the stored cookie so the client falls
// back to the join screen.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(lobby *models.Lobby, player *models.Player)) {
	lobby, player, err := s.Gate.Validate(r.Context(), sessionToken(r))
	if err != nil {
		if ledger.AsError(err) != nil {
			clearSessionCookie(w)
		}
		respondError(w, err)
		return
	}
	fn(lobby, player)
}

// CreateHandler validates lobby options and creates a new lobby. The creator
// joins afterwards with the returned code like everyone else.
func (s *Server) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var opts models.LobbyOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		respondError(w, ledger.ErrInvalidOptions)
		return
	}
	lobby, err := s.Ledger.CreateLobby(r.Context(), opts)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, map[string]string{"code": lobby.Code})
}

// JoinHandler admits (or re-attaches) a player by join code and mints their
// actor token.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	var form joinForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, ledger.ErrLobbyNotFound)
		return
	}
	lobby, player, err := s.Ledger.JoinLobby(r.Context(), form.Code, form.Name)
	if err != nil {
		respondError(w, err)
		return
	}

	token, err := session.CreateToken(lobby.ID, player.ID)
	if err != nil {
		s.Logger.WithError(err).Error("failed to mint session token")
		respondError(w, err)
		return
	}
	setSessionCookie(w, token)
	respondJSON(w, map[string]string{"playerId": player.ID.String()})
}

// PreflightHandler reports whether the caller's stored token still points at
// a live lobby, plus the static maps clients render from. Checked on page
// load.
func (s *Server) PreflightHandler(w http.ResponseWriter, r *http.Request) {
	var code *string
	if lobby, _, err := s.Gate.Validate(r.Context(), sessionToken(r)); err == nil {
		code = &lobby.Code
	} else if ledger.AsError(err) != nil {
		clearSessionCookie(w)
	}

	respondJSON(w, map[string]interface{}{
		"lobby": code,
		"transferEntityMap": map[string]string{
			"SELF":         models.TokenSelf,
			"BANK":         models.TokenBank,
			"FREE_PARKING": models.TokenFreeParking,
		},
	})
}

// PollHandler returns a consistent point-in-time snapshot of the caller's
// lobby.
func (s *Server) PollHandler(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		snap, err := s.Ledger.Snapshot(r.Context(), lobby.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, map[string]interface{}{
			"lobby":    snap,
			"playerId": player.ID.String(),
		})
	})
}

// EventsHandler returns recent activity, newest first. The websocket replay
// is the ascending view of the same log.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(lobby *models.Lobby, _ *models.Player) {
		events, err := s.Ledger.Events(r.Context(), lobby.ID, store.Descending)
		if err != nil {
			respondError(w, err)
			return
		}
		if events == nil {
			events = []*models.Event{}
		}
		respondJSON(w, events)
	})
}

// TransferHandler applies a balance transfer on behalf of the caller.
func (s *Server) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var form transferForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, ledger.ErrInvalidSource)
		return
	}
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		source := models.ParseEntity(form.Source)
		if source.Kind == models.EntityInvalid {
			respondError(w, ledger.ErrInvalidSource)
			return
		}
		destination := models.ParseEntity(form.Destination)
		if destination.Kind == models.EntityInvalid {
			respondError(w, ledger.ErrInvalidDestination)
			return
		}

		updated, err := s.Ledger.Transfer(r.Context(), lobby.ID, player.ID, source, destination, form.Amount)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, updated)
	})
}

// BankerHandler hands the banker role to another player.
func (s *Server) BankerHandler(w http.ResponseWriter, r *http.Request) {
	var form targetForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, ledger.ErrPlayerNotFound)
		return
	}
	target, err := uuid.Parse(form.Target)
	if err != nil {
		respondError(w, ledger.ErrPlayerNotFound)
		return
	}
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		updated, err := s.Ledger.PromoteBanker(r.Context(), lobby.ID, player.ID, target)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, updated)
	})
}

// LeaveHandler removes the caller from their lobby and discards the token.
func (s *Server) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		if err := s.Ledger.LeaveLobby(r.Context(), lobby.ID, player.ID); err != nil {
			respondError(w, err)
			return
		}
		clearSessionCookie(w)
		respondJSON(w, true)
	})
}

// KickHandler ejects another player. Banker-only.
func (s *Server) KickHandler(w http.ResponseWriter, r *http.Request) {
	var form targetForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondError(w, ledger.ErrPlayerNotFound)
		return
	}
	target, err := uuid.Parse(form.Target)
	if err != nil {
		respondError(w, ledger.ErrPlayerNotFound)
		return
	}
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		updated, err := s.Ledger.Kick(r.Context(), lobby.ID, player.ID, target)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, updated)
	})
}

// DisbandHandler terminally closes the caller's lobby. Banker-only.
func (s *Server) DisbandHandler(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(lobby *models.Lobby, player *models.Player) {
		if err := s.Ledger.Disband(r.Context(), lobby.ID, player.ID); err != nil {
			respondError(w, err)
			return
		}
		clearSessionCookie(w)
		respondJSON(w, true)
	})
}
