package main

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseLobby Phase = "lobby"
	PhaseNight Phase = "night"
	PhaseDay   Phase = "day"
	PhaseVote  Phase = "vote"
	PhaseEnded Phase = "ended"
)

type Role string

const (
	RoleNone      Role = ""
	RoleMafia     Role = "mafia"
	RoleDoctor    Role = "doctor"
	RoleDetective Role = "detective"
	RoleCitizen   Role = "citizen"
)

// Team is the side that wins a game. TeamNone means the game continues.
type Team string

const (
	TeamNone  Team = ""
	TeamMafia Team = "mafia"
	TeamTown  Team = "town"
)

func (r Role) Team() Team {
	switch r {
	case RoleMafia:
		return TeamMafia
	case RoleNone:
		return TeamNone
	default:
		return TeamTown
	}
}

// PlayerID is the stable, public identifier of a seat in a room.
type PlayerID string

// SessionID is the secret token a client keeps to reclaim its seat after a reconnect.
type SessionID string

// ConnectionID identifies one transport connection. It changes on every reconnect.
type ConnectionID string

type NightActionType string

const (
	ActionKill        NightActionType = "kill"
	ActionSave        NightActionType = "save"
	ActionInvestigate NightActionType = "investigate"
)

type ChatChannel string

const (
	ChannelPublic ChatChannel = "public"
	ChannelMafia  ChatChannel = "mafia"
)

type NightOutcome string

const (
	OutcomeKilled NightOutcome = "killed"
	OutcomeSaved  NightOutcome = "saved"
	OutcomeNoKill NightOutcome = "no_kill"
)

// Elimination causes carried in player_eliminated events
const (
	CauseNight        = "night"
	CauseLynch        = "lynch"
	CauseDisconnected = "disconnected"
	CauseLeft         = "left"
)

type Player struct {
	ID      PlayerID
	Session SessionID
	Conn    ConnectionID // empty while disconnected
	Name    string
	Avatar  string

	// Role is RoleNone until the room has started.
	Role      Role
	Alive     bool
	Connected bool

	DisconnectedAt *time.Time
	// Departed players lost their seat for good (left mid-game or missed the
	// reconnect window). They stay listed until the game is reset so the
	// final role reveal is complete.
	Departed bool
	JoinedAt time.Time

	wasHost    bool
	graceTimer *time.Timer

	chatWindowStart time.Time
	chatCount       int
}

// mafiaVote is one binding night vote. Only the first vote of each mafia member is recorded.
type mafiaVote struct {
	Voter  PlayerID
	Target PlayerID
}

type Room struct {
	Code    string
	HostID  PlayerID
	Phase   Phase
	Round   int
	Players map[PlayerID]*Player
	order   []PlayerID // join order, used for host promotion and stable listings

	// Night state, cleared on every night entry
	mafiaVotes      []mafiaVote
	doctorSave      PlayerID
	detectiveTarget PlayerID
	submitted       map[PlayerID]bool

	// Vote state, cleared on every day entry
	dayVotes map[PlayerID]PlayerID

	// At most one phase timer is live. ticket is bumped whenever the timer is
	// cancelled so a callback that already fired can tell it is stale.
	timer       *time.Timer
	ticket      uint64
	phaseEndsAt time.Time

	LastActivity time.Time
	Started      bool
	StartedAt    time.Time
	EndedAt      time.Time
	Winner       Team

	closed bool
	mu     sync.Mutex
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		Code:         code,
		Phase:        PhaseLobby,
		Players:      make(map[PlayerID]*Player),
		submitted:    make(map[PlayerID]bool),
		dayVotes:     make(map[PlayerID]PlayerID),
		LastActivity: now,
	}
}

// orderedPlayers returns players in join order.
func (room *Room) orderedPlayers() []*Player {
	players := make([]*Player, 0, len(room.order))
	for _, id := range room.order {
		if p, ok := room.Players[id]; ok {
			players = append(players, p)
		}
	}
	return players
}

func (room *Room) alivePlayers() []*Player {
	var alive []*Player
	for _, p := range room.orderedPlayers() {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

func (room *Room) livingWithRole(role Role) []*Player {
	var out []*Player
	for _, p := range room.orderedPlayers() {
		if p.Alive && p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// seatedCount counts players who still hold a seat.
func (room *Room) seatedCount() int {
	n := 0
	for _, p := range room.Players {
		if !p.Departed {
			n++
		}
	}
	return n
}

func (room *Room) addPlayer(p *Player) {
	room.Players[p.ID] = p
	room.order = append(room.order, p.ID)
}

func (room *Room) removePlayer(id PlayerID) {
	delete(room.Players, id)
	for i, pid := range room.order {
		if pid == id {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
	delete(room.dayVotes, id)
	delete(room.submitted, id)
}

// cancelTimer stops the pending phase timer and invalidates its ticket.
func (room *Room) cancelTimer() {
	if room.timer != nil {
		room.timer.Stop()
		room.timer = nil
	}
	room.ticket++
}

func (room *Room) resetNight() {
	room.mafiaVotes = nil
	room.doctorSave = ""
	room.detectiveTarget = ""
	room.submitted = make(map[PlayerID]bool)
}

func (room *Room) resetDayVotes() {
	room.dayVotes = make(map[PlayerID]PlayerID)
}

// PublicPlayer is what every room member may know about another player.
type PublicPlayer struct {
	ID        PlayerID `json:"id"`
	Name      string   `json:"name"`
	Avatar    string   `json:"avatar"`
	Alive     bool     `json:"alive"`
	Connected bool     `json:"connected"`
	IsHost    bool     `json:"is_host"`
	Departed  bool     `json:"departed,omitempty"`
}

func (room *Room) publicPlayer(p *Player) PublicPlayer {
	return PublicPlayer{
		ID:        p.ID,
		Name:      p.Name,
		Avatar:    p.Avatar,
		Alive:     p.Alive,
		Connected: p.Connected,
		IsHost:    p.ID == room.HostID,
		Departed:  p.Departed,
	}
}

// RoomSnapshot is the roster/phase view broadcast to every member.
type RoomSnapshot struct {
	Code    string         `json:"code"`
	HostID  PlayerID       `json:"host_id"`
	Phase   Phase          `json:"phase"`
	Round   int            `json:"round"`
	Started bool           `json:"started"`
	Players []PublicPlayer `json:"players"`
}

func (room *Room) snapshot() RoomSnapshot {
	s := RoomSnapshot{
		Code:    room.Code,
		HostID:  room.HostID,
		Phase:   room.Phase,
		Round:   room.Round,
		Started: room.Started,
	}
	for _, p := range room.orderedPlayers() {
		s.Players = append(s.Players, room.publicPlayer(p))
	}
	return s
}

// RoomSummary is the public HTTP view of a room, readable without joining.
type RoomSummary struct {
	Code        string `json:"code"`
	Phase       Phase  `json:"phase"`
	Round       int    `json:"round"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
	HostName    string `json:"host_name"`
	Joinable    bool   `json:"joinable"`
}
