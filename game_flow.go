package main

import (
	"context"
	"log"
	"time"
)

// resultTimeout bounds one game-end hand-off to the result store
const resultTimeout = 10 * time.Second

// evaluateWin decides the game from the living roster: no mafia left means
// the town wins, mafia at or above the rest means the mafia wins.
func evaluateWin(players []*Player) Team {
	var mafia, town int
	for _, p := range players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleMafia {
			mafia++
		} else {
			town++
		}
	}
	switch {
	case mafia == 0:
		return TeamTown
	case mafia >= town:
		return TeamMafia
	default:
		return TeamNone
	}
}

func checkWin(room *Room) Team {
	return evaluateWin(room.orderedPlayers())
}

// eliminate flips a player to dead and announces it. Room lock held.
func (r *RoomRegistry) eliminate(room *Room, p *Player, cause string) {
	if !p.Alive {
		return
	}
	p.Alive = false
	delete(room.dayVotes, p.ID)
	r.broadcast(room, Event{Type: EventEliminated, Data: EliminatedData{ID: p.ID, Name: p.Name, Cause: cause}})
	DebugLog("Room %s: '%s' eliminated (%s)", room.Code, p.Name, cause)
}

// checkGameOver ends the game if a side has won. Room lock held.
func (r *RoomRegistry) checkGameOver(room *Room) bool {
	if room.Phase == PhaseLobby || room.Phase == PhaseEnded {
		return false
	}
	winner := checkWin(room)
	if winner == TeamNone {
		return false
	}
	r.endGame(room, winner)
	return true
}

// afterElimination follows an elimination that happened outside a resolver
// (leave, missed reconnect): win check first, then the phase may now be
// complete without the departed player. Room lock held.
func (r *RoomRegistry) afterElimination(room *Room) {
	if r.checkGameOver(room) {
		return
	}
	r.maybeResolveEarly(room)
}

// endGame moves the room to ended, reveals every role and hands the result
// off to the store. Room lock held.
func (r *RoomRegistry) endGame(room *Room, winner Team) {
	room.cancelTimer()
	room.Phase = PhaseEnded
	room.Winner = winner
	room.EndedAt = r.now()
	room.phaseEndsAt = time.Time{}

	var mafia, town int
	for _, p := range room.alivePlayers() {
		if p.Role == RoleMafia {
			mafia++
		} else {
			town++
		}
	}
	log.Printf("Room %s finished after round %d, winner: %s (%d mafia, %d town alive)", room.Code, room.Round, winner, mafia, town)

	r.broadcast(room, Event{Type: EventGameEnded, Data: gameEndedData(room)})
	r.broadcast(room, Event{Type: EventPhaseChange, Data: r.phaseData(room)})
	r.broadcastState(room)

	r.recordResult(room)
}

// gameEndedData reveals every role, including departed and dead players.
func gameEndedData(room *Room) GameEndedData {
	data := GameEndedData{Winner: room.Winner, Round: room.Round}
	for _, p := range room.orderedPlayers() {
		data.Roles = append(data.Roles, RoleReveal{ID: p.ID, Name: p.Name, Role: p.Role, Alive: p.Alive})
	}
	return data
}

// gameRecord builds the end-of-game hand-off. Room lock held.
func gameRecord(room *Room) GameRecord {
	rec := GameRecord{
		Code:        room.Code,
		Winner:      room.Winner,
		Rounds:      room.Round,
		PlayerCount: len(room.Players),
		StartedAt:   room.StartedAt,
		EndedAt:     room.EndedAt,
	}
	for _, p := range room.orderedPlayers() {
		rec.Players = append(rec.Players, PlayerRecord{
			SessionID: p.Session,
			Name:      p.Name,
			Role:      p.Role,
			Won:       p.Role.Team() == room.Winner,
		})
	}
	return rec
}

// recordResult writes the result in the background; the room never waits on it.
func (r *RoomRegistry) recordResult(room *Room) {
	if r.results == nil {
		return
	}
	rec := gameRecord(room)
	store := r.results
	r.goBackground(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, resultTimeout)
		defer cancel()
		if err := store.RecordGame(ctx, rec); err != nil {
			logError("recordResult: "+rec.Code, err)
			return
		}
		DebugLog("Room %s: result recorded (%d players)", rec.Code, len(rec.Players))
	})
}
