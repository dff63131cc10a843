package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/coachrtc/internal/domain"
)

var (
	ErrCallNotFound = errors.New("call not found")
	ErrNotInCall    = errors.New("not a participant of this call")
	ErrUserBusy     = errors.New("user busy")
)

type callRecord struct {
	ID         domain.CallID     `json:"call_id"`
	RoomID     domain.RoomID     `json:"room_id"`
	Caller     domain.UserID     `json:"caller_id"`
	CallerRole domain.Role       `json:"caller_role"`
	Callee     domain.UserID     `json:"callee_id"`
	Status     domain.CallStatus `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
}

func (c *callRecord) has(uid domain.UserID) bool { return c.Caller == uid || c.Callee == uid }

func (c *callRecord) other(uid domain.UserID) domain.UserID {
	if c.Caller == uid {
		return c.Callee
	}
	return c.Caller
}

// callTable holds live calls. Ended calls are removed.
type callTable struct {
	mu   sync.Mutex
	byID map[domain.CallID]*callRecord
}

func newCallTable() *callTable {
	return &callTable{byID: make(map[domain.CallID]*callRecord)}
}

func (t *callTable) busyLocked(uid domain.UserID) bool {
	for _, c := range t.byID {
		if c.has(uid) {
			return true
		}
	}
	return false
}

func (t *callTable) start(room domain.ChatRoom, caller domain.Identity, now time.Time) (callRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	callee := room.Peer(caller.ID)
	if t.busyLocked(caller.ID) || t.busyLocked(callee) {
		return callRecord{}, ErrUserBusy
	}
	c := &callRecord{
		ID:         domain.CallID(uuid.NewString()),
		RoomID:     room.ID,
		Caller:     caller.ID,
		CallerRole: caller.Role,
		Callee:     callee,
		Status:     domain.CallRinging,
		StartedAt:  now,
	}
	t.byID[c.ID] = c
	return *c, nil
}

// accept is only valid for the callee of a ringing call.
func (t *callTable) accept(id domain.CallID, uid domain.UserID) (callRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[id]
	switch {
	case !ok:
		return callRecord{}, ErrCallNotFound
	case c.Callee != uid:
		return callRecord{}, ErrNotInCall
	case c.Status != domain.CallRinging:
		return callRecord{}, domain.ErrCallState
	}
	c.Status = domain.CallAccepted
	return *c, nil
}

func (t *callTable) end(id domain.CallID, uid domain.UserID) (callRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[id]
	if !ok {
		return callRecord{}, ErrCallNotFound
	}
	if !c.has(uid) {
		return callRecord{}, ErrNotInCall
	}
	delete(t.byID, id)
	c.Status = domain.CallEnded
	return *c, nil
}

func (t *callTable) get(id domain.CallID) (callRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[id]
	if !ok {
		return callRecord{}, false
	}
	return *c, true
}
