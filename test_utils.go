package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Fakes
// ============================================================================

// recordingNotifier captures every outbound event per connection.
type recordingNotifier struct {
	mu     sync.Mutex
	events map[ConnectionID][]Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[ConnectionID][]Event)}
}

func (n *recordingNotifier) Send(conn ConnectionID, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[conn] = append(n.events[conn], ev)
}

// ofType returns the events of one type delivered to conn, oldest first.
func (n *recordingNotifier) ofType(conn ConnectionID, typ string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, ev := range n.events[conn] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (n *recordingNotifier) last(conn ConnectionID, typ string) (Event, bool) {
	evs := n.ofType(conn, typ)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

func (n *recordingNotifier) count(conn ConnectionID, typ string) int {
	return len(n.ofType(conn, typ))
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = make(map[ConnectionID][]Event)
}

// memoryResultStore keeps recorded games in memory.
type memoryResultStore struct {
	mu    sync.Mutex
	games []GameRecord
}

func (s *memoryResultStore) RecordGame(_ context.Context, rec GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = append(s.games, rec)
	return nil
}

func (s *memoryResultStore) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[SessionID]*LeaderboardEntry{}
	var order []SessionID
	for _, g := range s.games {
		for _, p := range g.Players {
			e, ok := totals[p.SessionID]
			if !ok {
				e = &LeaderboardEntry{Name: p.Name}
				totals[p.SessionID] = e
				order = append(order, p.SessionID)
			}
			e.Games++
			if p.Won {
				e.Wins++
			}
		}
	}
	entries := []LeaderboardEntry{}
	for _, id := range order {
		if len(entries) == limit {
			break
		}
		entries = append(entries, *totals[id])
	}
	return entries, nil
}

func (s *memoryResultStore) Close() error { return nil }

func (s *memoryResultStore) recorded() []GameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GameRecord(nil), s.games...)
}

// testClock is a manually advanced clock for rate-limit and idle tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ============================================================================
// Test context
// ============================================================================

// TestContext holds an isolated registry wired to fakes
type TestContext struct {
	t        *testing.T
	logger   *TestLogger
	notifier *recordingNotifier
	results  *memoryResultStore
	registry *RoomRegistry
	connSeq  int
}

// testGameConfig keeps phase timers out of the way; timer tests shorten them.
func testGameConfig() GameConfig {
	cfg := DefaultGameConfig()
	cfg.NightDuration = time.Hour
	cfg.DayDuration = time.Hour
	cfg.VoteDuration = time.Hour
	cfg.LobbyGrace = time.Hour
	cfg.GameGrace = time.Hour
	return cfg
}

func newTestContext(t *testing.T) *TestContext {
	return newTestContextWithConfig(t, testGameConfig())
}

func newTestContextWithConfig(t *testing.T, cfg GameConfig) *TestContext {
	return newTestContextWithClock(t, cfg, nil)
}

// newTestContextWithClock builds a registry that reads time from clock when non-nil.
func newTestContextWithClock(t *testing.T, cfg GameConfig, clock *testClock) *TestContext {
	logger := NewTestLogger(t)
	notifier := newRecordingNotifier()
	results := &memoryResultStore{}

	registry := NewRoomRegistry(cfg, notifier, results, staticNarrator{})
	if clock != nil {
		registry.now = clock.Now
	}
	t.Cleanup(registry.Shutdown)

	logger.Debug("Test registry ready (night %v, day %v, vote %v)", cfg.NightDuration, cfg.DayDuration, cfg.VoteDuration)
	return &TestContext{
		t:        t,
		logger:   logger,
		notifier: notifier,
		results:  results,
		registry: registry,
	}
}

func (ctx *TestContext) newConn() ConnectionID {
	ctx.connSeq++
	return ConnectionID(fmt.Sprintf("conn-%d", ctx.connSeq))
}

// testPlayer is one seated client as a test sees it
type testPlayer struct {
	ctx     *TestContext
	conn    ConnectionID
	id      PlayerID
	session SessionID
	name    string
	code    string
}

func (ctx *TestContext) createRoom(name string) *testPlayer {
	ctx.t.Helper()
	conn := ctx.newConn()
	res, err := ctx.registry.CreateRoom(conn, name, "avatar-1")
	if err != nil {
		ctx.t.Fatalf("CreateRoom(%q): %v", name, err)
	}
	return &testPlayer{ctx: ctx, conn: conn, id: res.PlayerID, session: res.SessionID, name: name, code: res.Code}
}

func (ctx *TestContext) joinRoom(code, name string) *testPlayer {
	ctx.t.Helper()
	conn := ctx.newConn()
	res, err := ctx.registry.JoinRoom(conn, code, name, "avatar-2")
	if err != nil {
		ctx.t.Fatalf("JoinRoom(%s, %q): %v", code, name, err)
	}
	return &testPlayer{ctx: ctx, conn: conn, id: res.PlayerID, session: res.SessionID, name: name, code: res.Code}
}

var testNames = []string{"Alice", "Bob", "Carol", "Dave", "Erin", "Frank", "Grace", "Heidi", "Ivan", "Judy", "Mallory", "Oscar"}

// setupRoom creates a lobby with n players; the first one hosts.
func (ctx *TestContext) setupRoom(n int) []*testPlayer {
	ctx.t.Helper()
	players := []*testPlayer{ctx.createRoom(testNames[0])}
	for i := 1; i < n; i++ {
		players = append(players, ctx.joinRoom(players[0].code, testNames[i]))
	}
	return players
}

// startWithRoles starts the game and then overrides the dealt roles in seat
// order so tests are deterministic.
func (ctx *TestContext) startWithRoles(players []*testPlayer, roles ...Role) {
	ctx.t.Helper()
	if err := ctx.registry.StartGame(players[0].conn, players[0].code); err != nil {
		ctx.t.Fatalf("StartGame: %v", err)
	}
	ctx.withRoom(players[0].code, func(room *Room) {
		for i, p := range players {
			if i < len(roles) {
				room.Players[p.id].Role = roles[i]
			}
		}
	})
}

// withRoom runs fn with the room locked.
func (ctx *TestContext) withRoom(code string, fn func(room *Room)) {
	ctx.t.Helper()
	room, err := ctx.registry.lockRoom(code)
	if err != nil {
		ctx.t.Fatalf("lockRoom(%s): %v", code, err)
	}
	defer room.mu.Unlock()
	fn(room)
}

func (ctx *TestContext) phase(code string) Phase {
	var phase Phase
	ctx.withRoom(code, func(room *Room) { phase = room.Phase })
	return phase
}

func (ctx *TestContext) round(code string) int {
	var round int
	ctx.withRoom(code, func(room *Room) { round = room.Round })
	return round
}

func (tp *testPlayer) state() Player {
	var snapshot Player
	tp.ctx.withRoom(tp.code, func(room *Room) {
		if p, ok := room.Players[tp.id]; ok {
			snapshot = Player{
				ID: p.ID, Session: p.Session, Conn: p.Conn, Name: p.Name,
				Role: p.Role, Alive: p.Alive, Connected: p.Connected, Departed: p.Departed,
			}
		}
	})
	return snapshot
}

func (tp *testPlayer) isHost() bool {
	var host bool
	tp.ctx.withRoom(tp.code, func(room *Room) { host = room.HostID == tp.id })
	return host
}

func (tp *testPlayer) nightAction(action NightActionType, target *testPlayer) error {
	return tp.ctx.registry.NightAction(tp.conn, tp.code, action, target.id)
}

func (tp *testPlayer) vote(target *testPlayer) error {
	return tp.ctx.registry.DayVote(tp.conn, tp.code, target.id)
}

func (tp *testPlayer) chat(text string, channel ChatChannel) error {
	return tp.ctx.registry.ChatMessage(tp.conn, tp.code, text, channel)
}

func (tp *testPlayer) lastEvent(typ string) (Event, bool) {
	return tp.ctx.notifier.last(tp.conn, typ)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, desc)
}

// expirePhase fires the current phase timer immediately, as if it had run out.
func (ctx *TestContext) expirePhase(code string) {
	ctx.t.Helper()
	var (
		room   *Room
		ticket uint64
	)
	ctx.withRoom(code, func(r *Room) {
		room = r
		ticket = r.ticket
	})
	ctx.registry.onPhaseTimeout(room, ticket)
}
