// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/spgill/banker/internal/ledger"
)

// SessionCookieName carries the actor token between calls.
const SessionCookieName = "session_token"

// apiResponse is the envelope every endpoint returns: payload on success,
// error message (plus machine code) on failure.
type apiResponse struct {
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    ledger.Code `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiResponse{Payload: payload})
}

// respondError maps a failure to an HTTP status. Typed ledger failures keep
// their code and message; anything else is an opaque 500.
func respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	e := ledger.AsError(err)
	if e == nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(apiResponse{Error: "Server Error"})
		return
	}

	status := http.StatusBadRequest
	switch e.Code {
	case ledger.CodeSessionInvalid:
		status = http.StatusUnauthorized
	case ledger.CodeNotBanker, ledger.CodeBankerCannotLeave, ledger.CodeCannotKickSelf:
		status = http.StatusForbidden
	case ledger.CodeLobbyNotFound, ledger.CodeLobbyInvalid, ledger.CodePlayerNotFound:
		status = http.StatusNotFound
	case ledger.CodeLobbyExpired:
		status = http.StatusGone
	case ledger.CodeLobbyFull:
		status = http.StatusConflict
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: e.Message, Code: e.Code})
}

// sessionToken pulls the actor token from the request cookie, or "".
func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookie stores a freshly minted actor token on the client.
func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie tells the client to discard a dead token.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
