package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// WSMessage represents a message from the client
type WSMessage struct {
	Action    string `json:"action"`
	Code      string `json:"code,omitempty"`
	Username  string `json:"username,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Kind      string `json:"kind,omitempty"` // night action: kill | save | investigate
	TargetID  string `json:"target_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Channel   string `json:"channel,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Client is one websocket connection. Only its write pump writes to conn.
type Client struct {
	id      ConnectionID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

// Hub tracks live connections, routes inbound actions to the registry and
// implements Notifier for outbound events.
type Hub struct {
	registry *RoomRegistry

	clients    map[ConnectionID]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}

	wsRate         rate.Limit
	wsBurst        int
	allowAnyOrigin bool
}

func newHub(wsRate float64, wsBurst int, allowAnyOrigin bool) *Hub {
	return &Hub{
		clients:        make(map[ConnectionID]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
		wsRate:         rate.Limit(wsRate),
		wsBurst:        wsBurst,
		allowAnyOrigin: allowAnyOrigin,
	}
}

// attach wires the registry the hub dispatches to. Must be called before run.
func (h *Hub) attach(registry *RoomRegistry) {
	h.registry = registry
}

// Send queues ev for conn. It never blocks: a client whose buffer is full
// misses the event and resyncs on the next room_state.
func (h *Hub) Send(conn ConnectionID, ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		logError("hub.Send: marshal "+ev.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[conn]
	if !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		log.Printf("WebSocket send buffer full for %s, dropping %s", conn, ev.Type)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// run owns client registration until ctx is cancelled, then closes every client.
func (h *Hub) run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (%s). Total: %d", client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			if ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			log.Printf("WebSocket client disconnected (%s). Total: %d", client.id, total)
			// outside the hub lock: Disconnect broadcasts through Send
			if h.registry != nil {
				h.registry.Disconnect(client.id)
			}
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	if h.allowAnyOrigin {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		id:      newConnectionID(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(h.wsRate, h.wsBurst),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	DebugLog("WebSocket %s upgraded from %s", client.id, r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error (%s): %v", c.id, err)
			}
			return
		}
		if !c.limiter.Allow() {
			sendError(h, c.id, ErrFloodLimited)
			continue
		}
		LogWSMessage("IN", string(c.id), string(message))
		h.dispatch(c, message)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			LogWSMessage("OUT", string(c.id), string(message))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error (%s): %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound action. Errors go back to the sender only.
func (h *Hub) dispatch(c *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error (%s): %v", c.id, err)
		sendError(h, c.id, ErrMalformedMessage)
		return
	}

	reg := h.registry
	var err error
	switch msg.Action {
	case "create_room":
		_, err = reg.CreateRoom(c.id, msg.Username, msg.Avatar)
	case "join_room":
		_, err = reg.JoinRoom(c.id, msg.Code, msg.Username, msg.Avatar)
	case "start_game":
		err = reg.StartGame(c.id, msg.Code)
	case "night_action":
		err = reg.NightAction(c.id, msg.Code, NightActionType(msg.Kind), PlayerID(msg.TargetID))
	case "day_vote":
		err = reg.DayVote(c.id, msg.Code, PlayerID(msg.TargetID))
	case "skip_discussion":
		err = reg.SkipDiscussion(c.id, msg.Code)
	case "play_again":
		err = reg.PlayAgain(c.id, msg.Code)
	case "chat_message":
		err = reg.ChatMessage(c.id, msg.Code, msg.Text, ChatChannel(msg.Channel))
	case "reconnect_player":
		_, err = reg.ReconnectPlayer(c.id, SessionID(msg.SessionID), msg.Code)
	case "leave_room":
		err = reg.LeaveRoom(c.id, msg.Code)
	default:
		err = ErrUnknownAction
	}
	if err != nil {
		DebugLog("Action %s from %s rejected: %v", msg.Action, c.id, err)
		sendError(h, c.id, err)
	}
}
