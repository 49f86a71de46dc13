package main

import (
	"errors"
	"testing"
)

// startFive seats Alice (host, citizen), Bob (mafia), Carol (doctor),
// Dave (detective) and Erin (citizen) and starts the first night.
func startFive(ctx *TestContext) (alice, bob, carol, dave, erin *testPlayer) {
	ctx.t.Helper()
	ps := ctx.setupRoom(5)
	ctx.startWithRoles(ps, RoleCitizen, RoleMafia, RoleDoctor, RoleDetective, RoleCitizen)
	return ps[0], ps[1], ps[2], ps[3], ps[4]
}

func rosterOf(players ...*Player) map[PlayerID]*Player {
	m := make(map[PlayerID]*Player, len(players))
	for _, p := range players {
		m[p.ID] = p
	}
	return m
}

func TestResolveNightActions(t *testing.T) {
	m1 := &Player{ID: "m1", Role: RoleMafia, Alive: true}
	m2 := &Player{ID: "m2", Role: RoleMafia, Alive: true}
	deadMafia := &Player{ID: "m3", Role: RoleMafia, Alive: false}
	a := &Player{ID: "a", Role: RoleCitizen, Alive: true}
	b := &Player{ID: "b", Role: RoleDoctor, Alive: true}
	gone := &Player{ID: "gone", Role: RoleCitizen, Alive: false}
	roster := rosterOf(m1, m2, deadMafia, a, b, gone)
	first := func(int) int { return 0 }

	tests := []struct {
		name   string
		votes  []mafiaVote
		save   PlayerID
		want   NightOutcome
		target PlayerID
	}{
		{"no votes", nil, "", OutcomeNoKill, ""},
		{"no votes with a save", nil, "a", OutcomeNoKill, ""},
		{"kill", []mafiaVote{{"m1", "a"}}, "b", OutcomeKilled, "a"},
		{"saved", []mafiaVote{{"m1", "a"}}, "a", OutcomeSaved, "a"},
		{"dead mafia vote does not break a tie", []mafiaVote{{"m1", "b"}, {"m2", "a"}, {"m3", "b"}}, "", OutcomeKilled, "a"},
		{"majority decides", []mafiaVote{{"m1", "b"}, {"m2", "b"}}, "", OutcomeKilled, "b"},
		{"save on someone else", []mafiaVote{{"m1", "b"}, {"m2", "b"}}, "a", OutcomeKilled, "b"},
		{"target already dead", []mafiaVote{{"m1", "gone"}}, "", OutcomeNoKill, ""},
		{"dead voter ignored", []mafiaVote{{"m3", "a"}}, "", OutcomeNoKill, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveNightActions(tt.votes, tt.save, roster, first)
			if got.Outcome != tt.want || got.Target != tt.target {
				t.Errorf("got %+v, want outcome %s target %q", got, tt.want, tt.target)
			}
		})
	}

	for _, p := range roster {
		if p.ID != "m3" && p.ID != "gone" && !p.Alive {
			t.Errorf("resolveNightActions mutated %s", p.ID)
		}
	}
}

func TestNightTieBreakIsUniform(t *testing.T) {
	m1 := &Player{ID: "m1", Role: RoleMafia, Alive: true}
	m2 := &Player{ID: "m2", Role: RoleMafia, Alive: true}
	m3 := &Player{ID: "m3", Role: RoleMafia, Alive: true}
	a := &Player{ID: "a", Role: RoleCitizen, Alive: true}
	b := &Player{ID: "b", Role: RoleCitizen, Alive: true}
	c := &Player{ID: "c", Role: RoleCitizen, Alive: true}
	roster := rosterOf(m1, m2, m3, a, b, c)
	votes := []mafiaVote{{"m1", "a"}, {"m2", "b"}, {"m3", "c"}}

	const trials = 3000
	hits := map[PlayerID]int{}
	for range trials {
		res := resolveNightActions(votes, "", roster, randIntn)
		if res.Outcome != OutcomeKilled {
			t.Fatalf("tie produced %s", res.Outcome)
		}
		hits[res.Target]++
	}
	// expected 1000 each; 800..1200 is more than 10 standard deviations wide
	for _, id := range []PlayerID{"a", "b", "c"} {
		if hits[id] < 800 || hits[id] > 1200 {
			t.Errorf("target %s chosen %d/%d times, distribution %v", id, hits[id], trials, hits)
		}
	}
}

func TestNightActionValidation(t *testing.T) {
	ctx := newTestContext(t)
	alice, bob, carol, dave, erin := startFive(ctx)

	ctx.logger.Debug("=== Testing night action validation ===")

	checks := []struct {
		name string
		err  error
		want error
	}{
		{"citizen cannot kill", alice.nightAction(ActionKill, erin), ErrNotAuthorized},
		{"mafia cannot save", bob.nightAction(ActionSave, erin), ErrNotAuthorized},
		{"mafia cannot target mafia", bob.nightAction(ActionKill, bob), ErrInvalidTarget},
		{"detective cannot investigate self", dave.nightAction(ActionInvestigate, dave), ErrSelfTarget},
		{"unknown action", ctx.registry.NightAction(bob.conn, bob.code, "poison", erin.id), ErrUnknownAction},
		{"unknown target", ctx.registry.NightAction(bob.conn, bob.code, ActionKill, "nobody"), ErrInvalidTarget},
		{"wrong room", ctx.registry.NightAction(bob.conn, "ZZZZZZ", ActionKill, erin.id), ErrRoomNotFound},
		{"day vote at night", alice.vote(bob), ErrWrongPhase},
		{"skip at night", ctx.registry.SkipDiscussion(alice.conn, alice.code), ErrWrongPhase},
	}
	for _, c := range checks {
		if !errors.Is(c.err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, c.err, c.want)
		}
	}

	// the doctor may protect themselves
	if err := carol.nightAction(ActionSave, carol); err != nil {
		t.Fatalf("doctor self-save: %v", err)
	}
	if err := carol.nightAction(ActionSave, erin); !errors.Is(err, ErrAlreadyActed) {
		t.Errorf("second save: got %v, want ErrAlreadyActed", err)
	}
	if ctx.phase(alice.code) != PhaseNight {
		t.Errorf("night resolved before everyone acted")
	}
}

func TestDetectiveResultIsPrivate(t *testing.T) {
	ctx := newTestContext(t)
	alice, bob, carol, dave, erin := startFive(ctx)

	if err := dave.nightAction(ActionInvestigate, bob); err != nil {
		t.Fatalf("investigate: %v", err)
	}
	ev, ok := dave.lastEvent(EventInvestigation)
	if !ok {
		t.Fatal("detective received no investigation result")
	}
	data := ev.Data.(InvestigationData)
	if data.TargetID != bob.id || !data.IsMafia {
		t.Errorf("investigation result %+v, want Bob is mafia", data)
	}
	for _, p := range []*testPlayer{alice, bob, carol, erin} {
		if _, ok := p.lastEvent(EventInvestigation); ok {
			t.Errorf("%s saw the detective's result", p.name)
		}
	}
	if err := dave.nightAction(ActionInvestigate, erin); !errors.Is(err, ErrAlreadyActed) {
		t.Errorf("second investigation: got %v, want ErrAlreadyActed", err)
	}
}

func TestNightKillResolvesEarly(t *testing.T) {
	ctx := newTestContext(t)
	alice, bob, carol, dave, erin := startFive(ctx)

	ctx.logger.Debug("=== Mafia kills Erin, doctor protects Dave ===")
	if err := bob.nightAction(ActionKill, erin); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := bob.nightAction(ActionKill, alice); !errors.Is(err, ErrAlreadyActed) {
		t.Errorf("second kill vote: got %v, want ErrAlreadyActed", err)
	}
	if mv, ok := bob.lastEvent(EventMafiaVotes); !ok || mv.Data.(MafiaVoteData).Votes[bob.id] != erin.id {
		t.Errorf("mafia did not see their own vote: %+v", mv)
	}
	if _, ok := alice.lastEvent(EventMafiaVotes); ok {
		t.Error("town saw mafia votes")
	}
	if err := carol.nightAction(ActionSave, dave); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ctx.phase(alice.code) != PhaseNight {
		t.Fatal("night resolved while detective still had to act")
	}
	if err := dave.nightAction(ActionInvestigate, alice); err != nil {
		t.Fatalf("investigate: %v", err)
	}

	if got := ctx.phase(alice.code); got != PhaseDay {
		t.Fatalf("phase after all actions = %s, want day", got)
	}
	if erin.state().Alive {
		t.Error("Erin should be dead")
	}
	ev, ok := alice.lastEvent(EventNightResult)
	if !ok {
		t.Fatal("no night_result broadcast")
	}
	if data := ev.Data.(NightResultData); data.Outcome != OutcomeKilled || data.VictimID != erin.id {
		t.Errorf("night result %+v, want Erin killed", data)
	}
	if ev, ok := alice.lastEvent(EventEliminated); !ok || ev.Data.(EliminatedData).Cause != CauseNight {
		t.Errorf("elimination notice %+v, want cause night", ev)
	}
	if err := bob.nightAction(ActionKill, alice); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("late night action: got %v, want ErrWrongPhase", err)
	}
}

func TestDoctorSavesTarget(t *testing.T) {
	ctx := newTestContext(t)
	alice, bob, carol, dave, erin := startFive(ctx)

	bob.nightAction(ActionKill, erin)
	carol.nightAction(ActionSave, erin)
	dave.nightAction(ActionInvestigate, alice)

	if got := ctx.phase(alice.code); got != PhaseDay {
		t.Fatalf("phase = %s, want day", got)
	}
	if !erin.state().Alive {
		t.Error("saved player died")
	}
	ev, _ := alice.lastEvent(EventNightResult)
	data := ev.Data.(NightResultData)
	if data.Outcome != OutcomeSaved {
		t.Errorf("outcome = %s, want saved", data.Outcome)
	}
	if data.VictimID != "" {
		t.Errorf("saved outcome revealed the target %s", data.VictimID)
	}
}

func TestNightWithoutKillVote(t *testing.T) {
	ctx := newTestContext(t)
	alice, _, carol, dave, _ := startFive(ctx)

	carol.nightAction(ActionSave, alice)
	dave.nightAction(ActionInvestigate, alice)
	ctx.expirePhase(alice.code)

	ev, ok := alice.lastEvent(EventNightResult)
	if !ok || ev.Data.(NightResultData).Outcome != OutcomeNoKill {
		t.Errorf("night result %+v, want no_kill", ev)
	}
	ctx.withRoom(alice.code, func(room *Room) {
		for _, p := range room.Players {
			if !p.Alive {
				t.Errorf("%s died on a night without votes", p.Name)
			}
		}
	})
}
