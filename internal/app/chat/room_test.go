package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

type chatBackend struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newChatBackend(t *testing.T) *chatBackend {
	t.Helper()
	b := &chatBackend{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat/R42/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	})
	mux.HandleFunc("/api/chat/rooms/R42/messages/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.URL.Query().Get("cursor") == "p2" {
			_, _ = w.Write([]byte(`{"results":[{"id":"1","type":"text","text":"oldest","created_at":"2026-03-01T09:00:00Z"}],"next":null}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"2","type":"text","text":"mid","created_at":"2026-03-01T09:01:00Z"}],"next":"/api/chat/rooms/R42/messages/?cursor=p2"}`))
	})
	mux.HandleFunc("/api/chat/send/text/", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RoomID string `json:"room_id"`
			Text   string `json:"text"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(domain.Message{ID: "9", RoomID: domain.RoomID(in.RoomID), SenderID: "m1", Type: domain.MessageText, Text: in.Text, CreatedAt: t0.Add(time.Hour)})
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *chatBackend) session() *session.Session {
	base := strings.TrimPrefix(b.URL, "http")
	return session.New(domain.Identity{ID: "m1", Role: domain.RoleMember, Token: "tok"}, session.Settings{
		Endpoints: session.Endpoints{BackendURL: b.URL + "/api", WSBase: "ws" + base},
	})
}

func (b *chatBackend) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("room did not connect")
		return nil
	}
}

func TestRoomMergesPushesAndOwnSends(t *testing.T) {
	t.Parallel()

	b := newChatBackend(t)
	sess := b.session()
	store := NewStore()
	store.Merge("R42", []domain.Message{msg("0", -time.Minute, "before open")})

	room := Open(context.Background(), sess, store, "R42")
	t.Cleanup(room.Close)
	server := b.next(t)

	require.Eventually(t, func() bool { return room.State() == core.StateOpen }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return store.Unread("R42", "m1") == 0 }, 2*time.Second, 10*time.Millisecond)

	push := `{"type":"message","payload":{"id":"5","sender_id":"c1","type":"text","text":"push","created_at":"2026-03-01T09:30:00Z"}}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(push)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(push)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`)))

	require.Eventually(t, func() bool { return len(room.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)

	sent, err := room.SendText(context.Background(), "hello coach")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID("9"), sent.ID)

	_, err = room.SendText(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMessageEmpty)

	got := room.Messages()
	assert.Equal(t, []domain.MessageID{"0", "5", "9"}, ids(got))
	assert.Equal(t, domain.RoomID("R42"), got[1].RoomID)
	assert.Equal(t, 1, store.Unread("R42", "m1"))
}

func TestRoomHistoryPagination(t *testing.T) {
	t.Parallel()

	b := newChatBackend(t)
	store := NewStore()
	room := Open(context.Background(), b.session(), store, "R42")
	t.Cleanup(room.Close)

	assert.True(t, room.HasOlder())
	n, err := room.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = room.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, room.HasOlder())

	_, err = room.LoadOlder(context.Background())
	assert.ErrorIs(t, err, ErrNoOlderHistory)

	assert.Equal(t, []domain.MessageID{"1", "2"}, ids(room.Messages()))
}

func TestReopeningRoomClosesPreviousChannel(t *testing.T) {
	t.Parallel()

	b := newChatBackend(t)
	sess := b.session()
	store := NewStore()

	first := Open(context.Background(), sess, store, "R42")
	b.next(t)
	second := Open(context.Background(), sess, store, "R42")
	t.Cleanup(second.Close)
	b.next(t)

	require.Eventually(t, func() bool { return first.State() == core.StateClosed }, 2*time.Second, 10*time.Millisecond)
	got, ok := sess.Registry.Get(session.RoomKey("R42"))
	require.True(t, ok)
	assert.Same(t, second, got)

	second.Close()
	second.Close()
	_, ok = sess.Registry.Get(session.RoomKey("R42"))
	assert.False(t, ok)
}

func TestConcurrentOpenAndCloseAll(t *testing.T) {
	t.Parallel()

	sess := session.New(domain.Identity{ID: "m1", Role: domain.RoleMember, Token: "tok"}, session.Settings{
		Endpoints: session.Endpoints{WSBase: "ws://127.0.0.1:1"},
	})
	store := NewStore()

	var wg sync.WaitGroup
	rooms := make(chan *Room, 16)
	for range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rooms <- Open(context.Background(), sess, store, "R42")
		}()
		go func() {
			defer wg.Done()
			sess.Registry.CloseAll()
		}()
	}
	wg.Wait()
	close(rooms)

	sess.Registry.CloseAll()
	for r := range rooms {
		assert.Equal(t, core.StateClosed, r.State())
		r.Close()
	}
	assert.Empty(t, sess.Registry.Keys())
}
