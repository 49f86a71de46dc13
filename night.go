package main

import (
	"log"
	"slices"
)

// NightAction records one role action for the current night: a mafia kill
// vote, the doctor's save or the detective's investigation.
func (r *RoomRegistry) NightAction(conn ConnectionID, code string, action NightActionType, target PlayerID) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if room.Phase != PhaseNight {
		return ErrWrongPhase
	}
	if !p.Alive {
		return ErrPlayerDead
	}

	var required Role
	switch action {
	case ActionKill:
		required = RoleMafia
	case ActionSave:
		required = RoleDoctor
	case ActionInvestigate:
		required = RoleDetective
	default:
		return ErrUnknownAction
	}
	if p.Role != required {
		return ErrNotAuthorized
	}
	if room.submitted[p.ID] {
		return ErrAlreadyActed
	}

	t, ok := room.Players[target]
	if !ok || t.Departed {
		return ErrInvalidTarget
	}
	if !t.Alive {
		return ErrTargetDead
	}

	switch action {
	case ActionKill:
		if t.Role == RoleMafia {
			return ErrInvalidTarget
		}
		room.mafiaVotes = append(room.mafiaVotes, mafiaVote{Voter: p.ID, Target: t.ID})
		DebugLog("Room %s: mafia '%s' voted to kill '%s'", room.Code, p.Name, t.Name)
		r.broadcastMafiaVotes(room)

	case ActionSave:
		room.doctorSave = t.ID
		DebugLog("Room %s: doctor '%s' protects '%s'", room.Code, p.Name, t.Name)

	case ActionInvestigate:
		if t.ID == p.ID {
			return ErrSelfTarget
		}
		room.detectiveTarget = t.ID
		DebugLog("Room %s: detective '%s' investigated '%s'", room.Code, p.Name, t.Name)
		r.send(p, Event{Type: EventInvestigation, Data: InvestigationData{
			TargetID:   t.ID,
			TargetName: t.Name,
			IsMafia:    t.Role == RoleMafia,
		}})
	}

	room.submitted[p.ID] = true
	r.touch(room)
	r.maybeResolveEarly(room)
	return nil
}

func mafiaVoteData(room *Room) MafiaVoteData {
	votes := make(map[PlayerID]PlayerID, len(room.mafiaVotes))
	for _, v := range room.mafiaVotes {
		votes[v.Voter] = v.Target
	}
	return MafiaVoteData{Votes: votes}
}

// broadcastMafiaVotes shows the current kill votes to the living mafia only.
func (r *RoomRegistry) broadcastMafiaVotes(room *Room) {
	data := mafiaVoteData(room)
	for _, m := range room.livingWithRole(RoleMafia) {
		r.send(m, Event{Type: EventMafiaVotes, Data: data})
	}
}

// nightComplete reports whether every living role-holder has acted.
func nightComplete(room *Room) bool {
	for _, p := range room.alivePlayers() {
		switch p.Role {
		case RoleMafia, RoleDoctor, RoleDetective:
			if !room.submitted[p.ID] {
				return false
			}
		}
	}
	return true
}

// NightResult is the outcome of one night.
type NightResult struct {
	Outcome NightOutcome
	Target  PlayerID
}

// resolveNightActions tallies the mafia votes cast by living mafia, breaks a
// tie at the top with pick and applies the doctor's save. It does not mutate
// the roster.
func resolveNightActions(votes []mafiaVote, save PlayerID, players map[PlayerID]*Player, pick func(n int) int) NightResult {
	counts := make(map[PlayerID]int)
	for _, v := range votes {
		voter, ok := players[v.Voter]
		if !ok || !voter.Alive || voter.Role != RoleMafia {
			continue
		}
		counts[v.Target]++
	}
	if len(counts) == 0 {
		return NightResult{Outcome: OutcomeNoKill}
	}

	top := 0
	var tied []PlayerID
	for target, n := range counts {
		switch {
		case n > top:
			top = n
			tied = []PlayerID{target}
		case n == top:
			tied = append(tied, target)
		}
	}
	// map order is random already, sorting keeps pick the only source of chance
	slices.Sort(tied)
	chosen := tied[0]
	if len(tied) > 1 {
		chosen = tied[pick(len(tied))]
	}

	victim, ok := players[chosen]
	if !ok || !victim.Alive {
		return NightResult{Outcome: OutcomeNoKill}
	}
	if chosen == save {
		return NightResult{Outcome: OutcomeSaved, Target: chosen}
	}
	return NightResult{Outcome: OutcomeKilled, Target: chosen}
}

// resolveNight applies the night outcome and moves to the day, or ends the
// game if the kill decided it. Room lock held.
func (r *RoomRegistry) resolveNight(room *Room) {
	room.cancelTimer()

	res := resolveNightActions(room.mafiaVotes, room.doctorSave, room.Players, randIntn)
	data := NightResultData{Outcome: res.Outcome}
	var victim *Player
	if res.Outcome == OutcomeKilled {
		victim = room.Players[res.Target]
		data.VictimID = victim.ID
		data.VictimName = victim.Name
	}

	r.broadcast(room, Event{Type: EventNightResult, Data: data})
	switch res.Outcome {
	case OutcomeKilled:
		log.Printf("Room %s night %d: '%s' was killed", room.Code, room.Round, victim.Name)
		r.eliminate(room, victim, CauseNight)
		r.narrate(room, NarrateKilled, victim.Name)
	case OutcomeSaved:
		log.Printf("Room %s night %d: doctor saved the target", room.Code, room.Round)
		r.narrate(room, NarrateSaved, "")
	default:
		log.Printf("Room %s night %d: no kill", room.Code, room.Round)
		r.narrate(room, NarrateNoKill, "")
	}

	if r.checkGameOver(room) {
		return
	}
	r.enterPhase(room, PhaseDay)
}
