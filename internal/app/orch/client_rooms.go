package orch

import (
	"context"
	"slices"

	"github.com/dkeye/coachrtc/internal/app/chat"
	"github.com/dkeye/coachrtc/internal/domain"
)

// Rooms lists the chat rooms the backend knows for this identity.
func (c *Client) Rooms(ctx context.Context) ([]domain.ChatRoom, error) {
	sess, err := c.Session()
	if err != nil {
		return nil, err
	}
	return sess.Backend.Rooms(ctx)
}

// JoinRoom opens the room's live channel and loads its newest history page.
// Joining an open room returns it unchanged.
func (c *Client) JoinRoom(ctx context.Context, id domain.RoomID) (*chat.Room, error) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return nil, ErrNoIdentity
	}
	if r, ok := c.rooms[id]; ok {
		c.mu.Unlock()
		return r, nil
	}
	r := chat.Open(c.ctx, c.sess, c.store, id)
	c.rooms[id] = r
	c.mu.Unlock()

	c.log.Info().Str("room_id", string(id)).Msg("joined room")
	if _, err := r.LoadHistory(ctx); err != nil {
		c.log.Warn().Err(err).Str("room_id", string(id)).Msg("load history")
		return r, err
	}
	return r, nil
}

func (c *Client) Room(id domain.RoomID) (*chat.Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rooms[id]
	return r, ok
}

// OpenRooms returns the ids of joined rooms, sorted.
func (c *Client) OpenRooms() []domain.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]domain.RoomID, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LeaveRoom closes the room's channel. Cached messages stay in the store.
func (c *Client) LeaveRoom(id domain.RoomID) bool {
	c.mu.Lock()
	r, ok := c.rooms[id]
	delete(c.rooms, id)
	c.mu.Unlock()
	if ok {
		r.Close()
		c.log.Info().Str("room_id", string(id)).Msg("left room")
	}
	return ok
}
