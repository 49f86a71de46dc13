package main

import (
	"github.com/google/uuid"
)

func newPlayerID() PlayerID {
	return PlayerID(uuid.NewString())
}

func newSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func newConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// bindConn maps a transport connection to a seat. A connection holds at most one seat.
func (r *RoomRegistry) bindConn(conn ConnectionID, s seat) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if existing, ok := r.conns[conn]; ok && existing != s {
		return ErrAlreadyInRoom
	}
	r.conns[conn] = s
	return nil
}

func (r *RoomRegistry) unbindConn(conn ConnectionID) {
	if conn == "" {
		return
	}
	r.connMu.Lock()
	delete(r.conns, conn)
	r.connMu.Unlock()
}

func (r *RoomRegistry) seatForConn(conn ConnectionID) (seat, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	s, ok := r.conns[conn]
	return s, ok
}

func (r *RoomRegistry) connHasSeat(conn ConnectionID) bool {
	_, ok := r.seatForConn(conn)
	return ok
}

func (r *RoomRegistry) bindSession(session SessionID, s seat) {
	r.connMu.Lock()
	r.sessions[session] = s
	r.connMu.Unlock()
}

// unbindSession forgets a session for good; the player can no longer reconnect.
func (r *RoomRegistry) unbindSession(session SessionID) {
	if session == "" {
		return
	}
	r.connMu.Lock()
	delete(r.sessions, session)
	r.connMu.Unlock()
}

func (r *RoomRegistry) seatForSession(session SessionID) (seat, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	s, ok := r.sessions[session]
	return s, ok
}
