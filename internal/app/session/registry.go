package session

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/domain"
)

// Key names one logical connection of an identity.
type Key string

const PresenceKey Key = "presence"

func CallKey(id domain.CallID) Key { return Key("call:" + string(id)) }
func RoomKey(id domain.RoomID) Key { return Key("room:" + string(id)) }

type Closer interface {
	Close()
}

type entry struct {
	Conn   Closer
	Cancel context.CancelFunc
}

// Registry guarantees at most one live channel per logical connection.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

// Bind registers conn under key. A previous holder of the key is cancelled
// and closed.
func (r *Registry) Bind(key Key, conn Closer, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.entries[key]
	r.entries[key] = &entry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.Conn != conn {
		closeEntry(prev)
		log.Info().Str("module", "app.registry").Str("key", string(key)).Msg("replaced channel")
		return
	}
	log.Info().Str("module", "app.registry").Str("key", string(key)).Msg("bound channel")
}

func (r *Registry) Get(key Key) (Closer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind removes key only while conn still holds it, so a late cleanup of a
// replaced channel never evicts its successor.
func (r *Registry) Unbind(key Key, conn Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok && e.Conn == conn {
		delete(r.entries, key)
		log.Info().Str("module", "app.registry").Str("key", string(key)).Msg("unbind channel")
	}
}

func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if !ok {
		return false
	}
	closeEntry(e)
	log.Info().Str("module", "app.registry").Str("key", string(key)).Msg("canceled channel")
	return true
}

func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Key]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		closeEntry(e)
	}
}

func closeEntry(e *entry) {
	if e.Cancel != nil {
		e.Cancel()
	}
	if e.Conn != nil {
		e.Conn.Close()
	}
}
