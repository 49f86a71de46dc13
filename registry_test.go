package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEvictIdleRooms(t *testing.T) {
	clock := newTestClock()
	ctx := newTestContextWithClock(t, testGameConfig(), clock)

	stale := ctx.createRoom("Alice")
	clock.Advance(5 * time.Minute)
	fresh := ctx.createRoom("Bob")
	clock.Advance(6 * time.Minute)

	evicted := ctx.registry.EvictIdle(clock.Now())
	if len(evicted) != 1 || evicted[0] != stale.code {
		t.Fatalf("evicted %v, want only %s", evicted, stale.code)
	}
	if ev, ok := stale.lastEvent(EventRoomClosed); !ok || !strings.Contains(ev.Data.(ErrorData).Message, "idle") {
		t.Errorf("evicted room members got %+v", ev)
	}
	if _, err := ctx.registry.RoomInfo(stale.code); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("evicted room still reachable: %v", err)
	}
	if err := stale.chat("anyone?", ChannelPublic); err == nil {
		t.Error("chat into an evicted room succeeded")
	}

	// activity resets the idle clock
	if err := fresh.chat("still here", ChannelPublic); err != nil {
		t.Fatalf("chat: %v", err)
	}
	clock.Advance(9 * time.Minute)
	if evicted := ctx.registry.EvictIdle(clock.Now()); len(evicted) != 0 {
		t.Errorf("active room evicted: %v", evicted)
	}
	if n := ctx.registry.RoomCount(); n != 1 {
		t.Errorf("RoomCount = %d, want 1", n)
	}
}

func TestShutdownDropsRooms(t *testing.T) {
	cfg := testGameConfig()
	cfg.NightDuration = 150 * time.Millisecond
	ctx := newTestContextWithConfig(t, cfg)
	alice, _, _, _, _ := startFive(ctx)

	ctx.registry.Shutdown()

	if n := ctx.registry.RoomCount(); n != 0 {
		t.Errorf("RoomCount = %d after shutdown", n)
	}
	if _, ok := alice.lastEvent(EventRoomClosed); !ok {
		t.Error("players were not told the room closed")
	}
	if _, err := ctx.registry.CreateRoom(ctx.newConn(), "Late", ""); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("CreateRoom after shutdown: got %v, want ErrShuttingDown", err)
	}

	// the cancelled night timer must not resolve anything
	time.Sleep(250 * time.Millisecond)
	if n := ctx.notifier.count(alice.conn, EventNightResult); n != 0 {
		t.Errorf("night resolved %d times after shutdown", n)
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	one := newTestContext(t)
	two := newTestContext(t)

	host := one.createRoom("Alice")
	if _, err := two.registry.JoinRoom(two.newConn(), host.code, "Bob", ""); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("join across registries: got %v, want ErrRoomNotFound", err)
	}
	if one.registry.RoomCount() != 1 || two.registry.RoomCount() != 0 {
		t.Errorf("room counts %d/%d, want 1/0", one.registry.RoomCount(), two.registry.RoomCount())
	}
}

func TestRoomInfo(t *testing.T) {
	ctx := newTestContext(t)
	ps := ctx.setupRoom(4)

	info, err := ctx.registry.RoomInfo(strings.ToLower(ps[0].code))
	if err != nil {
		t.Fatalf("RoomInfo: %v", err)
	}
	want := RoomSummary{Code: ps[0].code, Phase: PhaseLobby, PlayerCount: 4, MaxPlayers: 12, HostName: "Alice", Joinable: true}
	if info != want {
		t.Errorf("RoomInfo = %+v, want %+v", info, want)
	}

	ctx.startWithRoles(ps)
	info, _ = ctx.registry.RoomInfo(ps[0].code)
	if info.Joinable || info.Phase != PhaseNight || info.Round != 1 {
		t.Errorf("RoomInfo after start = %+v", info)
	}
}

type failingNarrator struct{}

func (failingNarrator) Narrate(context.Context, string, string) (string, error) {
	return "", errors.New("model unavailable")
}

func TestNarrationIsBroadcast(t *testing.T) {
	ctx := newTestContext(t)
	alice, bob, carol, dave, erin := startFive(ctx)

	bob.nightAction(ActionKill, erin)
	carol.nightAction(ActionSave, alice)
	dave.nightAction(ActionInvestigate, bob)

	waitFor(t, time.Second, "narration", func() bool {
		_, ok := alice.lastEvent(EventNarration)
		return ok
	})
	ev, _ := alice.lastEvent(EventNarration)
	data := ev.Data.(NarrationData)
	if data.Kind != NarrateKilled || !strings.Contains(data.Text, "Erin") {
		t.Errorf("narration %+v", data)
	}
}

func TestNarrationFallsBackToStaticText(t *testing.T) {
	ctx := newTestContext(t)
	ctx.registry.narrator = failingNarrator{}
	alice, _, _, _, _ := startFive(ctx)

	ctx.expirePhase(alice.code)
	waitFor(t, time.Second, "fallback narration", func() bool {
		_, ok := alice.lastEvent(EventNarration)
		return ok
	})
	ev, _ := alice.lastEvent(EventNarration)
	if got := ev.Data.(NarrationData).Text; got != staticNarration(NarrateNoKill, "") {
		t.Errorf("narration = %q, want the static no-kill line", got)
	}
}
