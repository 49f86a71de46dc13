package main

import (
	"log"
	"time"
)

// enterPhase moves the room into phase: cancels the pending timer, clears the
// state that belongs to the new phase, bumps the round on night entry and
// schedules the expiry. Room lock held.
func (r *RoomRegistry) enterPhase(room *Room, phase Phase) {
	room.cancelTimer()

	switch phase {
	case PhaseNight:
		room.Round++
		room.resetNight()
	case PhaseDay:
		room.resetDayVotes()
	}
	room.Phase = phase

	d := r.cfg.phaseDuration(phase)
	ticket := room.ticket
	room.phaseEndsAt = r.now().Add(d)
	room.timer = time.AfterFunc(d, func() {
		r.onPhaseTimeout(room, ticket)
	})

	log.Printf("Room %s: entering %s (round %d, %v)", room.Code, phase, room.Round, d)
	r.broadcast(room, Event{Type: EventPhaseChange, Data: r.phaseData(room)})
}

func (r *RoomRegistry) phaseData(room *Room) PhaseData {
	data := PhaseData{Phase: room.Phase, Round: room.Round}
	if !room.phaseEndsAt.IsZero() && room.Phase != PhaseLobby && room.Phase != PhaseEnded {
		data.EndsAt = room.phaseEndsAt
		data.DurationMS = max(room.phaseEndsAt.Sub(r.now()), 0).Milliseconds()
	}
	return data
}

// onPhaseTimeout runs when a phase timer expires. A callback whose ticket was
// invalidated by an early resolution or a skip does nothing.
func (r *RoomRegistry) onPhaseTimeout(room *Room, ticket uint64) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.ticket != ticket {
		DebugLog("Room %s: stale phase timer ignored (ticket %d, current %d)", room.Code, ticket, room.ticket)
		return
	}
	room.timer = nil
	r.touch(room)

	switch room.Phase {
	case PhaseNight:
		r.resolveNight(room)
	case PhaseDay:
		r.enterPhase(room, PhaseVote)
	case PhaseVote:
		r.resolveVote(room)
	}
}

// maybeResolveEarly resolves the current phase if every required action is in. Room lock held.
func (r *RoomRegistry) maybeResolveEarly(room *Room) {
	switch room.Phase {
	case PhaseNight:
		if nightComplete(room) {
			DebugLog("Room %s: all night actions in, resolving early", room.Code)
			r.resolveNight(room)
		}
	case PhaseVote:
		if allVoted(room) {
			DebugLog("Room %s: every living player voted, resolving early", room.Code)
			r.resolveVote(room)
		}
	}
}

// SkipDiscussion ends the day discussion and opens the vote. Host only.
func (r *RoomRegistry) SkipDiscussion(conn ConnectionID, code string) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if p.ID != room.HostID {
		return ErrNotHost
	}
	if room.Phase != PhaseDay {
		return ErrWrongPhase
	}
	r.touch(room)
	log.Printf("Room %s: host '%s' skipped discussion", room.Code, p.Name)
	r.enterPhase(room, PhaseVote)
	return nil
}
