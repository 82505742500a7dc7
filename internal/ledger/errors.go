// internal/ledger/errors.go
package ledger

// Code identifies one of the recoverable failure reasons an operation can
// return. Every rejection is a typed value reported to the caller; nothing in
// this package panics on bad input.
type Code string

const (
	CodeInvalidOptions     Code = "INVALID_OPTIONS"
	CodeLobbyNotFound      Code = "LOBBY_CODE_INVALID"
	CodeLobbyInvalid       Code = "LOBBY_INVALID"
	CodeLobbyExpired       Code = "LOBBY_EXPIRED"
	CodeLobbyFull          Code = "LOBBY_FULL"
	CodeNameRejected       Code = "PLY_NAME_BLACKLIST"
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodePlayerNotActive    Code = "PLY_NOT_ACTIVE"
	CodePlayerNotFound     Code = "KICK_NOT_FOUND"
	CodeNotBanker          Code = "PLY_NOT_BANKER"
	CodeBankerCannotLeave  Code = "BANKER_CANNOT_LEAVE"
	CodeCannotKickSelf     Code = "KICK_YOURSELF"
	CodeInvalidSource      Code = "TRANSFER_INVALID_SRC"
	CodeInvalidDestination Code = "TRANSFER_INVALID_DEST"
	CodeInsufficientFunds  Code = "TRANSFER_FUNDS"
)

// Error is a typed, user-presentable operation failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Sentinel failures. Messages are the exact strings clients display.
var (
	ErrInvalidOptions     = &Error{CodeInvalidOptions, "Invalid lobby options"}
	ErrLobbyNotFound      = &Error{CodeLobbyNotFound, "Lobby with this code does not exist"}
	ErrLobbyInvalid       = &Error{CodeLobbyInvalid, "Invalid lobby data"}
	ErrLobbyExpired       = &Error{CodeLobbyExpired, "This lobby has expired"}
	ErrLobbyFull          = &Error{CodeLobbyFull, "This lobby is full"}
	ErrNameRejected       = &Error{CodeNameRejected, "That player name is not allowed"}
	ErrSessionInvalid     = &Error{CodeSessionInvalid, "Invalid session data"}
	ErrPlayerNotActive    = &Error{CodePlayerNotActive, "You are no longer part of this lobby"}
	ErrPlayerNotFound     = &Error{CodePlayerNotFound, "Target player not found"}
	ErrNotBanker          = &Error{CodeNotBanker, "You are not the banker!"}
	ErrBankerCannotLeave  = &Error{CodeBankerCannotLeave, "You are the banker. You cannot leave."}
	ErrCannotKickSelf     = &Error{CodeCannotKickSelf, "You cannot kick yourself"}
	ErrInvalidSource      = &Error{CodeInvalidSource, "Invalid transfer source"}
	ErrInvalidDestination = &Error{CodeInvalidDestination, "Invalid transfer destination"}
	ErrInsufficientFunds  = &Error{CodeInsufficientFunds, "Insufficient funds"}
)

// AsError unwraps err into a *Error if it is one, else nil.
func AsError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return nil
}
