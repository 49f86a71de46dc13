package main

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxChatRunes caps a single chat message
const MaxChatRunes = 200

// sanitizeChat strips control characters and trims. Over-long text is cut.
func sanitizeChat(raw string) string {
	text := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw))
	if utf8.RuneCountInString(text) > MaxChatRunes {
		text = strings.TrimSpace(string([]rune(text)[:MaxChatRunes]))
	}
	return text
}

// ChatMessage delivers a chat line after channel authorization and the per-player rate limit.
func (r *RoomRegistry) ChatMessage(conn ConnectionID, code, text string, channel ChatChannel) error {
	room, p, err := r.lockActor(conn, code)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if channel == "" {
		channel = ChannelPublic
	}
	var recipients []*Player
	switch channel {
	case ChannelPublic:
		if !p.Alive {
			return ErrPlayerDead
		}
		recipients = room.orderedPlayers()
	case ChannelMafia:
		if !room.Started || room.Phase == PhaseEnded || p.Role != RoleMafia {
			return ErrNotAuthorized
		}
		if !p.Alive {
			return ErrPlayerDead
		}
		recipients = room.livingWithRole(RoleMafia)
		if len(recipients) < 2 {
			return ErrMafiaChannelClosed
		}
	default:
		return ErrUnknownChannel
	}

	text = sanitizeChat(text)
	if text == "" {
		return ErrEmptyMessage
	}
	now := r.now()
	if !allowChat(p, now, r.cfg.ChatLimit, r.cfg.ChatWindow) {
		return ErrRateLimited
	}
	r.touch(room)

	ev := Event{Type: EventChat, Data: ChatData{
		Channel:  channel,
		SenderID: p.ID,
		Sender:   p.Name,
		Text:     text,
		SentAt:   now,
	}}
	for _, to := range recipients {
		r.send(to, ev)
	}
	return nil
}

// allowChat applies the rolling window: the window restarts once it is older
// than window, and at most limit messages are accepted inside one window.
func allowChat(p *Player, now time.Time, limit int, window time.Duration) bool {
	if p.chatWindowStart.IsZero() || now.Sub(p.chatWindowStart) > window {
		p.chatWindowStart = now
		p.chatCount = 0
	}
	if p.chatCount >= limit {
		return false
	}
	p.chatCount++
	return true
}
