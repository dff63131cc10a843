// Package chat keeps per-room message sequences and the live room channels
// that feed them.
package chat

import (
	"slices"
	"sync"
	"time"

	"github.com/dkeye/coachrtc/internal/domain"
)

// Merge appends batch to existing, keeps the first occurrence of every id and
// stable-sorts by creation time. Neither input is modified.
func Merge(existing, batch []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(existing)+len(batch))
	seen := make(map[domain.MessageID]struct{}, len(existing)+len(batch))
	for _, src := range [][]domain.Message{existing, batch} {
		for _, m := range src {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Store is the ordered message sequence of every room the session touched.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]domain.Message

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan domain.RoomID
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[domain.RoomID][]domain.Message),
		subs:  make(map[int]chan domain.RoomID),
	}
}

// Merge folds batch into the room and swaps in the new sequence at once;
// readers see either the old or the new sequence, never a partial one.
func (s *Store) Merge(room domain.RoomID, batch []domain.Message) []domain.Message {
	s.mu.Lock()
	merged := Merge(s.rooms[room], batch)
	s.rooms[room] = merged
	s.mu.Unlock()
	s.notify(room)
	return slices.Clone(merged)
}

func (s *Store) Messages(room domain.RoomID) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rooms[room])
}

// MarkRead stamps every unread message of the room with at and returns how
// many changed. It never touches the network.
func (s *Store) MarkRead(room domain.RoomID, at time.Time) int {
	s.mu.Lock()
	cur := s.rooms[room]
	next := slices.Clone(cur)
	n := 0
	for i := range next {
		if next[i].ReadAt == nil {
			ts := at
			next[i].ReadAt = &ts
			n++
		}
	}
	if n > 0 {
		s.rooms[room] = next
	}
	s.mu.Unlock()
	if n > 0 {
		s.notify(room)
	}
	return n
}

// Unread counts messages from others that carry no read stamp.
func (s *Store) Unread(room domain.RoomID, self domain.UserID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.rooms[room] {
		if m.ReadAt == nil && m.SenderID != self {
			n++
		}
	}
	return n
}

func (s *Store) Reset(room domain.RoomID) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
	s.notify(room)
}

// Subscribe returns a channel that receives the id of every room that
// changed. Notifications are coalesced when the reader falls behind.
func (s *Store) Subscribe() (<-chan domain.RoomID, func()) {
	ch := make(chan domain.RoomID, 16)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notify(room domain.RoomID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- room:
		default:
		}
	}
}
