package main

import (
	"log"
)

// DayVote records the caller's lynch vote. A later vote replaces the earlier one.
func (r *RoomRegistry) DayVote(conn ConnectionID, code string, target PlayerID) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if room.Phase != PhaseVote {
		return ErrWrongPhase
	}
	if !p.Alive {
		return ErrPlayerDead
	}
	t, ok := room.Players[target]
	if !ok || t.Departed {
		return ErrInvalidTarget
	}
	if t.ID == p.ID {
		return ErrSelfTarget
	}
	if !t.Alive {
		return ErrTargetDead
	}

	room.dayVotes[p.ID] = t.ID
	r.touch(room)
	DebugLog("Room %s: '%s' votes for '%s'", room.Code, p.Name, t.Name)

	counts, _ := tallyDayVotes(room.dayVotes, room.Players)
	r.broadcast(room, Event{Type: EventVoteUpdate, Data: VoteTallyData{
		Votes:  copyVotes(room.dayVotes),
		Counts: counts,
	}})
	r.maybeResolveEarly(room)
	return nil
}

func copyVotes(votes map[PlayerID]PlayerID) map[PlayerID]PlayerID {
	out := make(map[PlayerID]PlayerID, len(votes))
	for k, v := range votes {
		out[k] = v
	}
	return out
}

// allVoted reports whether every living player has a vote in.
func allVoted(room *Room) bool {
	alive := room.alivePlayers()
	if len(alive) == 0 {
		return false
	}
	for _, p := range alive {
		if _, ok := room.dayVotes[p.ID]; !ok {
			return false
		}
	}
	return true
}

// tallyDayVotes counts the votes of living voters for living targets. The
// lynched player is the strict top scorer; a tie at the top or no votes
// yields an empty PlayerID.
func tallyDayVotes(votes map[PlayerID]PlayerID, players map[PlayerID]*Player) (map[PlayerID]int, PlayerID) {
	counts := make(map[PlayerID]int)
	for voter, target := range votes {
		v, ok := players[voter]
		if !ok || !v.Alive || voter == target {
			continue
		}
		t, ok := players[target]
		if !ok || !t.Alive {
			continue
		}
		counts[target]++
	}

	var lynched PlayerID
	top, tied := 0, false
	for target, n := range counts {
		switch {
		case n > top:
			top, lynched, tied = n, target, false
		case n == top:
			tied = true
		}
	}
	if tied {
		return counts, ""
	}
	return counts, lynched
}

// resolveVote applies the lynch and moves to the next night, or ends the
// game. Room lock held.
func (r *RoomRegistry) resolveVote(room *Room) {
	room.cancelTimer()

	counts, lynchedID := tallyDayVotes(room.dayVotes, room.Players)
	data := VoteResultData{Counts: counts}
	var lynched *Player
	if lynchedID != "" {
		lynched = room.Players[lynchedID]
		data.LynchedID = lynched.ID
		data.LynchedName = lynched.Name
	}
	r.broadcast(room, Event{Type: EventVoteResult, Data: data})

	if lynched != nil {
		log.Printf("Room %s round %d: '%s' was lynched", room.Code, room.Round, lynched.Name)
		r.eliminate(room, lynched, CauseLynch)
		r.narrate(room, NarrateLynched, lynched.Name)
	} else {
		log.Printf("Room %s round %d: no one was lynched", room.Code, room.Round)
		r.narrate(room, NarrateNoLynch, "")
	}

	if r.checkGameOver(room) {
		return
	}
	r.enterPhase(room, PhaseNight)
}
