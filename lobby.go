package main

import (
	"log"
	"regexp"
	"strings"
	"unicode"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N} _-]{3,16}$`)

// sanitizeUsername trims, drops markup and control characters, collapses
// whitespace and validates the result.
func sanitizeUsername(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	name := strings.Join(strings.Fields(cleaned), " ")
	if !usernamePattern.MatchString(name) {
		return "", ErrInvalidUsername
	}
	return name, nil
}

// JoinResult identifies the seat a connection just took.
type JoinResult struct {
	Code      string
	PlayerID  PlayerID
	SessionID SessionID
}

// CreateRoom opens a new room with the caller as host.
func (r *RoomRegistry) CreateRoom(conn ConnectionID, username, avatar string) (JoinResult, error) {
	name, err := sanitizeUsername(username)
	if err != nil {
		return JoinResult{}, err
	}
	if r.connHasSeat(conn) {
		return JoinResult{}, ErrAlreadyInRoom
	}

	room, err := r.insertRoom()
	if err != nil {
		return JoinResult{}, err
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	p, err := r.seatPlayer(room, conn, name, avatar)
	if err != nil {
		r.closeRoom(room)
		r.deleteRoom(room.Code)
		return JoinResult{}, err
	}
	room.HostID = p.ID

	log.Printf("Room %s created by '%s'", room.Code, name)
	r.welcome(room, p)
	return JoinResult{Code: room.Code, PlayerID: p.ID, SessionID: p.Session}, nil
}

// JoinRoom seats the caller in an existing lobby.
func (r *RoomRegistry) JoinRoom(conn ConnectionID, code, username, avatar string) (JoinResult, error) {
	name, err := sanitizeUsername(username)
	if err != nil {
		return JoinResult{}, err
	}

	room, err := r.lockRoom(code)
	if err != nil {
		return JoinResult{}, err
	}
	defer room.mu.Unlock()

	if room.Phase != PhaseLobby {
		return JoinResult{}, ErrGameInProgress
	}
	if room.seatedCount() >= r.cfg.MaxPlayers {
		return JoinResult{}, ErrRoomFull
	}
	for _, other := range room.Players {
		if !other.Departed && strings.EqualFold(other.Name, name) {
			return JoinResult{}, ErrDuplicateUsername
		}
	}

	p, err := r.seatPlayer(room, conn, name, avatar)
	if err != nil {
		return JoinResult{}, err
	}

	log.Printf("Player '%s' joined room %s (%d players)", name, room.Code, room.seatedCount())
	r.welcome(room, p)
	return JoinResult{Code: room.Code, PlayerID: p.ID, SessionID: p.Session}, nil
}

// seatPlayer creates the player record and binds its connection and session. Room lock held.
func (r *RoomRegistry) seatPlayer(room *Room, conn ConnectionID, name, avatar string) (*Player, error) {
	p := &Player{
		ID:        newPlayerID(),
		Session:   newSessionID(),
		Conn:      conn,
		Name:      name,
		Avatar:    avatar,
		Alive:     true,
		Connected: true,
		JoinedAt:  r.now(),
	}
	s := seat{Code: room.Code, Player: p.ID}
	if err := r.bindConn(conn, s); err != nil {
		return nil, err
	}
	r.bindSession(p.Session, s)
	room.addPlayer(p)
	r.touch(room)
	return p, nil
}

func (r *RoomRegistry) welcome(room *Room, p *Player) {
	r.send(p, Event{Type: EventRoomJoined, Data: JoinedData{Code: room.Code, PlayerID: p.ID, SessionID: p.Session}})
	r.broadcastState(room)
}

// StartGame deals roles and enters the first night. Host only.
func (r *RoomRegistry) StartGame(conn ConnectionID, code string) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if p.ID != room.HostID {
		return ErrNotHost
	}
	if room.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	players := room.orderedPlayers()
	if len(players) < r.cfg.MinPlayers {
		return ErrNotEnoughPlayers
	}

	ids := make([]PlayerID, 0, len(players))
	for _, pl := range players {
		ids = append(ids, pl.ID)
	}
	roles := assignRoles(ids)
	for _, pl := range players {
		pl.Role = roles[pl.ID]
		pl.Alive = true
	}
	room.Started = true
	room.StartedAt = r.now()
	room.Winner = TeamNone
	r.touch(room)

	log.Printf("Room %s: game started with %d players (%d mafia)", room.Code, len(players), mafiaCount(len(players)))
	for _, pl := range players {
		r.send(pl, Event{Type: EventGameStarted, Data: r.startPayload(room, pl)})
	}
	r.enterPhase(room, PhaseNight)
	return nil
}

// startPayload is the personal role card. Mafia additionally learn their teammates.
func (r *RoomRegistry) startPayload(room *Room, p *Player) GameStartedData {
	data := GameStartedData{Role: p.Role}
	if p.Role == RoleMafia {
		for _, other := range room.orderedPlayers() {
			if other.ID != p.ID && other.Role == RoleMafia {
				data.Teammates = append(data.Teammates, room.publicPlayer(other))
			}
		}
	}
	return data
}

// PlayAgain resets an ended room back to the lobby with the same seats. Host only.
func (r *RoomRegistry) PlayAgain(conn ConnectionID, code string) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if p.ID != room.HostID {
		return ErrNotHost
	}
	if room.Phase != PhaseEnded {
		return ErrWrongPhase
	}

	room.cancelTimer()
	for _, pl := range room.orderedPlayers() {
		if pl.Departed {
			room.removePlayer(pl.ID)
			continue
		}
		pl.Role = RoleNone
		pl.Alive = true
	}
	room.resetNight()
	room.resetDayVotes()
	room.Phase = PhaseLobby
	room.Round = 0
	room.Started = false
	room.Winner = TeamNone
	r.touch(room)

	log.Printf("Room %s reset to lobby by host '%s'", room.Code, p.Name)
	r.broadcast(room, Event{Type: EventRoomReset, Data: room.snapshot()})
	r.broadcastState(room)
	return nil
}

// LeaveRoom gives up the caller's seat immediately, without a grace period.
func (r *RoomRegistry) LeaveRoom(conn ConnectionID, code string) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	r.unbindConn(p.Conn)
	r.unbindSession(p.Session)
	p.Conn = ""
	p.Connected = false
	if p.graceTimer != nil {
		p.graceTimer.Stop()
		p.graceTimer = nil
	}
	r.touch(room)

	log.Printf("Player '%s' left room %s", p.Name, room.Code)
	r.releaseSeat(room, p, CauseLeft)
	return nil
}

// releaseSeat permanently drops a player. In the lobby the record goes away;
// once the game has started the player is eliminated and kept for the role
// reveal. Handles host promotion and empty-room deletion. Room lock held.
func (r *RoomRegistry) releaseSeat(room *Room, p *Player, cause string) {
	isHost := p.ID == room.HostID
	p.wasHost = false

	if !room.Started {
		room.removePlayer(p.ID)
	} else {
		p.Departed = true
		if p.Alive && room.Phase != PhaseEnded {
			r.eliminate(room, p, cause)
			r.afterElimination(room)
		}
	}

	if room.seatedCount() == 0 {
		r.destroyRoom(room, "all players left")
		return
	}
	if isHost {
		r.promoteHost(room, p.ID)
	}
	r.broadcastState(room)
}

// promoteHost hands the host seat to the earliest-joined connected player,
// falling back to any seated player. Room lock held.
func (r *RoomRegistry) promoteHost(room *Room, exclude PlayerID) {
	var fallback *Player
	for _, p := range room.orderedPlayers() {
		if p.ID == exclude || p.Departed {
			continue
		}
		if p.Connected {
			room.HostID = p.ID
			log.Printf("Room %s: '%s' is now host", room.Code, p.Name)
			return
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		room.HostID = fallback.ID
		log.Printf("Room %s: '%s' is now host (offline)", room.Code, fallback.Name)
	}
}
