package main

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6

	// RoomCodeChars excludes look-alikes (I, O, 0, 1)
	RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GameConfig holds the rule timings and limits a registry runs with.
type GameConfig struct {
	NightDuration time.Duration
	DayDuration   time.Duration
	VoteDuration  time.Duration

	LobbyGrace time.Duration
	GameGrace  time.Duration

	IdleTimeout     time.Duration
	JanitorInterval time.Duration

	MinPlayers int
	MaxPlayers int

	ChatLimit  int
	ChatWindow time.Duration
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		NightDuration:   60 * time.Second,
		DayDuration:     90 * time.Second,
		VoteDuration:    30 * time.Second,
		LobbyGrace:      15 * time.Second,
		GameGrace:       30 * time.Second,
		IdleTimeout:     10 * time.Minute,
		JanitorInterval: time.Minute,
		MinPlayers:      4,
		MaxPlayers:      12,
		ChatLimit:       10,
		ChatWindow:      5 * time.Second,
	}
}

func (c GameConfig) phaseDuration(phase Phase) time.Duration {
	switch phase {
	case PhaseNight:
		return c.NightDuration
	case PhaseDay:
		return c.DayDuration
	case PhaseVote:
		return c.VoteDuration
	default:
		return 0
	}
}

// seat locates a player: which room, which player record.
type seat struct {
	Code   string
	Player PlayerID
}

// RoomRegistry owns every live room. Each room serializes its own mutations
// behind Room.mu; the registry maps only need insert/delete/lookup locking.
//
// Lock order: Room.mu may be held while taking registry.mu or connMu, never
// the other way round.
type RoomRegistry struct {
	cfg      GameConfig
	notifier Notifier
	results  ResultStore
	narrator Narrator
	now      func() time.Time

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	connMu   sync.Mutex
	conns    map[ConnectionID]seat
	sessions map[SessionID]seat

	// background hand-offs (results, narration)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRoomRegistry creates an isolated registry. results and narrator may be nil.
func NewRoomRegistry(cfg GameConfig, notifier Notifier, results ResultStore, narrator Narrator) *RoomRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomRegistry{
		cfg:      cfg,
		notifier: notifier,
		results:  results,
		narrator: narrator,
		now:      time.Now,
		rooms:    make(map[string]*Room),
		conns:    make(map[ConnectionID]seat),
		sessions: make(map[SessionID]seat),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateRoomCode creates a random room code
func generateRoomCode() string {
	code := make([]byte, RoomCodeLength)
	for i := range code {
		code[i] = RoomCodeChars[randIntn(len(RoomCodeChars))]
	}
	return string(code)
}

// insertRoom registers a new room under a fresh, collision-free code.
func (r *RoomRegistry) insertRoom() (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShuttingDown
	}
	for {
		code := generateRoomCode()
		if _, exists := r.rooms[code]; exists {
			continue
		}
		room := newRoom(code, r.now())
		r.rooms[code] = room
		return room, nil
	}
}

func (r *RoomRegistry) lookupRoom(code string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[normalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRegistry) deleteRoom(code string) {
	r.mu.Lock()
	delete(r.rooms, code)
	r.mu.Unlock()
}

// RoomCount returns the number of live rooms.
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// lockRoom looks up a room and returns it locked. The caller must unlock it.
func (r *RoomRegistry) lockRoom(code string) (*Room, error) {
	room, err := r.lookupRoom(code)
	if err != nil {
		return nil, err
	}
	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// lockActor resolves the player behind conn in the named room and returns the
// room locked. The caller must unlock it.
func (r *RoomRegistry) lockActor(conn ConnectionID, code string) (*Room, *Player, error) {
	s, ok := r.seatForConn(conn)
	if !ok || s.Code != normalizeCode(code) {
		if _, err := r.lookupRoom(code); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotInRoom
	}
	room, err := r.lockRoom(s.Code)
	if err != nil {
		return nil, nil, err
	}
	p, ok := room.Players[s.Player]
	if !ok || p.Conn != conn || p.Departed {
		room.mu.Unlock()
		return nil, nil, ErrNotInRoom
	}
	return room, p, nil
}

func (r *RoomRegistry) touch(room *Room) {
	room.LastActivity = r.now()
}

// closeRoom stops every timer of the room and releases its seats. Room lock held.
func (r *RoomRegistry) closeRoom(room *Room) {
	if room.closed {
		return
	}
	room.cancelTimer()
	for _, p := range room.Players {
		if p.graceTimer != nil {
			p.graceTimer.Stop()
			p.graceTimer = nil
		}
		r.unbindConn(p.Conn)
		r.unbindSession(p.Session)
	}
	room.closed = true
}

// destroyRoom closes the room and removes it from the registry. Room lock held.
func (r *RoomRegistry) destroyRoom(room *Room, reason string) {
	r.broadcast(room, Event{Type: EventRoomClosed, Data: ErrorData{Message: reason}})
	r.closeRoom(room)
	r.deleteRoom(room.Code)
	log.Printf("Room %s closed (%s)", room.Code, reason)
}

// RoomInfo returns the public summary of a room.
func (r *RoomRegistry) RoomInfo(code string) (RoomSummary, error) {
	room, err := r.lockRoom(code)
	if err != nil {
		return RoomSummary{}, err
	}
	defer room.mu.Unlock()

	summary := RoomSummary{
		Code:        room.Code,
		Phase:       room.Phase,
		Round:       room.Round,
		PlayerCount: room.seatedCount(),
		MaxPlayers:  r.cfg.MaxPlayers,
	}
	if host, ok := room.Players[room.HostID]; ok {
		summary.HostName = host.Name
	}
	summary.Joinable = room.Phase == PhaseLobby && summary.PlayerCount < r.cfg.MaxPlayers
	return summary, nil
}

// EvictIdle closes every room that saw no activity for the idle timeout and
// returns their codes.
func (r *RoomRegistry) EvictIdle(now time.Time) []string {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	var evicted []string
	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed && now.Sub(room.LastActivity) > r.cfg.IdleTimeout {
			r.destroyRoom(room, "idle timeout")
			evicted = append(evicted, room.Code)
		}
		room.mu.Unlock()
	}
	return evicted
}

// RunJanitor evicts idle rooms until ctx is cancelled.
func (r *RoomRegistry) RunJanitor(ctx context.Context) error {
	interval := r.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := r.EvictIdle(r.now()); len(evicted) > 0 {
				DebugLog("Janitor evicted %d idle room(s): %v", len(evicted), evicted)
			}
		}
	}
}

// Shutdown cancels every timer, drops every room and waits for pending
// background hand-offs. The registry rejects new rooms afterwards.
func (r *RoomRegistry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			r.destroyRoom(room, "server shutting down")
		}
		room.mu.Unlock()
	}
	r.cancel()
	r.wg.Wait()
	log.Printf("Registry shut down, %d room(s) dropped", len(rooms))
}

// goBackground runs fn tracked by the registry so Shutdown can wait for it.
func (r *RoomRegistry) goBackground(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.ctx)
	}()
}
