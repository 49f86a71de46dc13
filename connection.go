package main

import (
	"log"
	"time"
)

// Disconnect handles an unexpected transport close. The seat is held for the
// grace period; a connection without a seat is ignored.
func (r *RoomRegistry) Disconnect(conn ConnectionID) {
	s, ok := r.seatForConn(conn)
	if !ok {
		return
	}
	room, err := r.lockRoom(s.Code)
	if err != nil {
		r.unbindConn(conn)
		return
	}
	defer room.mu.Unlock()

	r.unbindConn(conn)
	p, ok := room.Players[s.Player]
	if !ok || p.Conn != conn || p.Departed {
		return
	}

	at := r.now()
	p.Conn = ""
	p.Connected = false
	p.DisconnectedAt = &at

	if p.ID == room.HostID {
		p.wasHost = true
		r.promoteHost(room, p.ID)
	}

	grace := r.cfg.GameGrace
	if room.Phase == PhaseLobby {
		grace = r.cfg.LobbyGrace
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
	}
	id := p.ID
	p.graceTimer = time.AfterFunc(grace, func() {
		r.onGraceExpired(room, id, at)
	})

	log.Printf("Player '%s' disconnected from room %s, holding seat for %v", p.Name, room.Code, grace)
	r.broadcastState(room)
}

// onGraceExpired releases a seat whose owner did not come back in time. A
// player who reconnected, or disconnected again later, is left alone.
func (r *RoomRegistry) onGraceExpired(room *Room, id PlayerID, at time.Time) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return
	}
	p, ok := room.Players[id]
	if !ok || p.Connected || p.Departed || p.DisconnectedAt == nil || !p.DisconnectedAt.Equal(at) {
		return
	}
	p.graceTimer = nil
	r.unbindSession(p.Session)
	r.touch(room)

	log.Printf("Player '%s' did not reconnect to room %s in time", p.Name, room.Code)
	r.releaseSeat(room, p, CauseDisconnected)
}

// ReconnectPlayer moves a held seat onto a new connection. The player record
// (role, alive flag, host seat) is restored exactly as it was.
func (r *RoomRegistry) ReconnectPlayer(conn ConnectionID, session SessionID, code string) (JoinResult, error) {
	s, ok := r.seatForSession(session)
	if !ok || (code != "" && normalizeCode(code) != s.Code) {
		return JoinResult{}, ErrSessionUnknown
	}
	room, err := r.lockRoom(s.Code)
	if err != nil {
		return JoinResult{}, err
	}
	defer room.mu.Unlock()

	p, ok := room.Players[s.Player]
	if !ok || p.Departed {
		return JoinResult{}, ErrSessionUnknown
	}
	if err := r.bindConn(conn, s); err != nil {
		return JoinResult{}, err
	}
	// a second tab or a reconnect that beat the close of the old socket
	if p.Conn != "" && p.Conn != conn {
		r.unbindConn(p.Conn)
	}
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	p.Conn = conn
	p.Connected = true
	p.DisconnectedAt = nil
	if p.wasHost {
		room.HostID = p.ID
		p.wasHost = false
	}
	r.touch(room)

	log.Printf("Player '%s' reconnected to room %s", p.Name, room.Code)
	r.send(p, Event{Type: EventRoomJoined, Data: JoinedData{Code: room.Code, PlayerID: p.ID, SessionID: p.Session}})
	r.resync(room, p)
	r.broadcastState(room)
	return JoinResult{Code: room.Code, PlayerID: p.ID, SessionID: p.Session}, nil
}

// resync sends a returning player what they missed. Room lock held.
func (r *RoomRegistry) resync(room *Room, p *Player) {
	if !room.Started {
		return
	}
	r.send(p, Event{Type: EventGameStarted, Data: r.startPayload(room, p)})
	r.send(p, Event{Type: EventPhaseChange, Data: r.phaseData(room)})

	switch room.Phase {
	case PhaseNight:
		if p.Role == RoleMafia && p.Alive {
			r.send(p, Event{Type: EventMafiaVotes, Data: mafiaVoteData(room)})
		}
	case PhaseVote:
		counts, _ := tallyDayVotes(room.dayVotes, room.Players)
		r.send(p, Event{Type: EventVoteUpdate, Data: VoteTallyData{Votes: copyVotes(room.dayVotes), Counts: counts}})
	case PhaseEnded:
		r.send(p, Event{Type: EventGameEnded, Data: gameEndedData(room)})
	}
}
