package devserver

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkeye/coachrtc/internal/domain"
)

const (
	channelPresence  = "presence"
	channelSignaling = "signaling"
	channelChat      = "chat"

	maxBacklog = 256
)

// PublishResult reports how a fan-out went.
type PublishResult struct {
	SentTo  int
	Dropped []*peerConn
}

// Hub tracks every connected socket by what it listens to.
type Hub struct {
	policy Policy
	log    zerolog.Logger

	mu       sync.Mutex
	presence map[domain.UserID]*peerConn
	chats    map[domain.RoomID]map[*peerConn]struct{}
	calls    map[domain.CallID]map[domain.UserID]*peerConn
	// signaling frames for a participant that has not connected yet
	backlog map[domain.CallID]map[domain.UserID][][]byte
}

func NewHub(policy Policy, logger zerolog.Logger) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		policy:   policy,
		log:      logger,
		presence: make(map[domain.UserID]*peerConn),
		chats:    make(map[domain.RoomID]map[*peerConn]struct{}),
		calls:    make(map[domain.CallID]map[domain.UserID]*peerConn),
		backlog:  make(map[domain.CallID]map[domain.UserID][][]byte),
	}
}

// AttachPresence makes c the user's notification socket, closing any older one.
func (h *Hub) AttachPresence(c *peerConn) {
	h.mu.Lock()
	old := h.presence[c.uid]
	h.presence[c.uid] = c
	h.mu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
}

func (h *Hub) DetachPresence(c *peerConn) {
	h.mu.Lock()
	if h.presence[c.uid] == c {
		delete(h.presence, c.uid)
	}
	h.mu.Unlock()
}

// Notify sends v to uid's presence socket. It reports false when the user is
// offline or too slow.
func (h *Hub) Notify(uid domain.UserID, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal notice")
		return false
	}
	h.mu.Lock()
	c := h.presence[uid]
	h.mu.Unlock()
	if c == nil {
		h.log.Info().Str("user_id", string(uid)).Msg("notice for offline user")
		return false
	}
	return h.deliver(channelPresence, c, b)
}

func (h *Hub) JoinChat(room domain.RoomID, c *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.chats[room]
	if !ok {
		set = make(map[*peerConn]struct{})
		h.chats[room] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) LeaveChat(room domain.RoomID, c *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.chats[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.chats, room)
		}
	}
}

func (h *Hub) BroadcastChat(room domain.RoomID, v any) PublishResult {
	var res PublishResult
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal chat frame")
		return res
	}
	h.mu.Lock()
	targets := make([]*peerConn, 0, len(h.chats[room]))
	for c := range h.chats[room] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if h.deliver(channelChat, c, b) {
			res.SentTo++
			continue
		}
		res.Dropped = append(res.Dropped, c)
	}
	h.log.Debug().Str("room_id", string(room)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("chat broadcast")
	return res
}

// JoinCall registers c as uid's signaling socket for the call and flushes
// whatever the other side sent before c connected.
func (h *Hub) JoinCall(id domain.CallID, c *peerConn) {
	h.mu.Lock()
	peers, ok := h.calls[id]
	if !ok {
		peers = make(map[domain.UserID]*peerConn)
		h.calls[id] = peers
	}
	old := peers[c.uid]
	peers[c.uid] = c
	pending := h.backlog[id][c.uid]
	delete(h.backlog[id], c.uid)
	h.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}
	for _, b := range pending {
		if !h.deliver(channelSignaling, c, b) {
			return
		}
	}
}

func (h *Hub) LeaveCall(id domain.CallID, c *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.calls[id]; ok && peers[c.uid] == c {
		delete(peers, c.uid)
	}
}

// Relay forwards a signaling frame to the other participant, or keeps it
// until they connect.
func (h *Hub) Relay(id domain.CallID, to domain.UserID, b []byte) error {
	h.mu.Lock()
	c := h.calls[id][to]
	if c == nil {
		q, ok := h.backlog[id]
		if !ok {
			q = make(map[domain.UserID][][]byte)
			h.backlog[id] = q
		}
		if len(q[to]) >= maxBacklog {
			h.mu.Unlock()
			return ErrBackpressure
		}
		q[to] = append(q[to], b)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	if !h.deliver(channelSignaling, c, b) {
		return ErrBackpressure
	}
	return nil
}

// DropCall forgets the call and sends v to its signaling sockets. The clients
// hang up on their own when they read it.
func (h *Hub) DropCall(id domain.CallID, v any) {
	b, _ := json.Marshal(v)
	h.mu.Lock()
	peers := h.calls[id]
	delete(h.calls, id)
	delete(h.backlog, id)
	h.mu.Unlock()
	for _, c := range peers {
		_ = c.TrySend(b)
	}
}

func (h *Hub) deliver(channel string, c *peerConn, b []byte) bool {
	err := c.TrySend(b)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrBackpressure) {
		return false
	}
	switch h.policy.OnBackpressure(channel, c) {
	case KickPeer:
		h.log.Warn().Str("channel", channel).Str("user_id", string(c.uid)).Msg("kicking slow peer")
		c.Close()
	case DropFrame:
		h.log.Warn().Str("channel", channel).Str("user_id", string(c.uid)).Msg("dropping frame for slow peer")
	case NoAction:
	}
	return false
}
