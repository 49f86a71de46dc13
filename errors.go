package main

import "errors"

// Validation errors. They are reported to the originating client only and
// never change room state.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrGameInProgress     = errors.New("game already started")
	ErrNotInRoom          = errors.New("you are not in this room")
	ErrAlreadyInRoom      = errors.New("connection already holds a seat")
	ErrNotHost            = errors.New("only the host can do that")
	ErrWrongPhase         = errors.New("not allowed in the current phase")
	ErrNotEnoughPlayers   = errors.New("at least 4 players are needed to start")
	ErrPlayerDead         = errors.New("dead players cannot act")
	ErrNotAuthorized      = errors.New("your role cannot do that")
	ErrInvalidTarget      = errors.New("invalid target")
	ErrTargetDead         = errors.New("target is not alive")
	ErrSelfTarget         = errors.New("you cannot target yourself")
	ErrAlreadyActed       = errors.New("you already acted this night")
	ErrInvalidUsername    = errors.New("username must be 3-16 letters, digits, spaces, '_' or '-'")
	ErrDuplicateUsername  = errors.New("username already taken in this room")
	ErrSessionUnknown     = errors.New("session unknown or reconnect window expired")
	ErrUnknownChannel     = errors.New("unknown chat channel")
	ErrMafiaChannelClosed = errors.New("mafia channel is closed")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrRateLimited        = errors.New("slow down, too many messages")
	ErrUnknownAction      = errors.New("unknown action")
	ErrShuttingDown       = errors.New("server is shutting down")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrFloodLimited       = errors.New("too many messages, slow down")
)
