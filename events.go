package main

import (
	"time"
)

// Outbound event types
const (
	EventRoomJoined    = "room_joined"
	EventRoomState     = "room_state"
	EventGameStarted   = "game_started"
	EventPhaseChange   = "phase_change"
	EventInvestigation = "investigation_result"
	EventMafiaVotes    = "mafia_votes"
	EventNightResult   = "night_result"
	EventEliminated    = "player_eliminated"
	EventVoteUpdate    = "vote_update"
	EventVoteResult    = "vote_result"
	EventGameEnded     = "game_ended"
	EventRoomReset     = "room_reset"
	EventRoomClosed    = "room_closed"
	EventChat          = "chat_message"
	EventNarration     = "narration"
	EventError         = "error"
)

// Event is one outbound message to a client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Notifier delivers events to a transport connection. Implementations must
// not block and must not call back into the RoomRegistry.
type Notifier interface {
	Send(conn ConnectionID, ev Event)
}

type JoinedData struct {
	Code      string    `json:"code"`
	PlayerID  PlayerID  `json:"player_id"`
	SessionID SessionID `json:"session_id"`
}

type GameStartedData struct {
	Role      Role           `json:"role"`
	Teammates []PublicPlayer `json:"teammates,omitempty"`
}

type PhaseData struct {
	Phase      Phase     `json:"phase"`
	Round      int       `json:"round"`
	DurationMS int64     `json:"duration_ms"`
	EndsAt     time.Time `json:"ends_at"`
}

type InvestigationData struct {
	TargetID   PlayerID `json:"target_id"`
	TargetName string   `json:"target_name"`
	IsMafia    bool     `json:"is_mafia"`
}

type MafiaVoteData struct {
	Votes map[PlayerID]PlayerID `json:"votes"`
}

type NightResultData struct {
	Outcome    NightOutcome `json:"outcome"`
	VictimID   PlayerID     `json:"victim_id,omitempty"`
	VictimName string       `json:"victim_name,omitempty"`
}

type EliminatedData struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Cause string   `json:"cause"`
}

type VoteTallyData struct {
	Votes  map[PlayerID]PlayerID `json:"votes"`
	Counts map[PlayerID]int      `json:"counts"`
}

type VoteResultData struct {
	LynchedID   PlayerID         `json:"lynched_id,omitempty"`
	LynchedName string           `json:"lynched_name,omitempty"`
	Counts      map[PlayerID]int `json:"counts"`
}

type RoleReveal struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Role  Role     `json:"role"`
	Alive bool     `json:"alive"`
}

type GameEndedData struct {
	Winner Team         `json:"winner"`
	Round  int          `json:"round"`
	Roles  []RoleReveal `json:"roles"`
}

type ChatData struct {
	Channel  ChatChannel `json:"channel"`
	SenderID PlayerID    `json:"sender_id"`
	Sender   string      `json:"sender"`
	Text     string      `json:"text"`
	SentAt   time.Time   `json:"sent_at"`
}

type NarrationData struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// send delivers ev to one player if they are currently connected.
func (r *RoomRegistry) send(p *Player, ev Event) {
	if p == nil || !p.Connected || p.Conn == "" {
		return
	}
	r.notifier.Send(p.Conn, ev)
}

// broadcast delivers ev to every connected player in the room.
func (r *RoomRegistry) broadcast(room *Room, ev Event) {
	for _, p := range room.orderedPlayers() {
		r.send(p, ev)
	}
}

func (r *RoomRegistry) broadcastState(room *Room) {
	r.broadcast(room, Event{Type: EventRoomState, Data: room.snapshot()})
}

// sendError reports a validation error to the originating connection only.
func sendError(n Notifier, conn ConnectionID, err error) {
	if n == nil || conn == "" || err == nil {
		return
	}
	n.Send(conn, Event{Type: EventError, Data: ErrorData{Message: err.Error()}})
}
