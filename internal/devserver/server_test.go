package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/adapters/backend"
	"github.com/dkeye/coachrtc/internal/core"
	"github.com/dkeye/coachrtc/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	srv    *Server
	http   *httptest.Server
	tokens map[domain.UserID]string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg.Secret = "test-secret"
	srv := New(cfg, store)
	require.NoError(t, srv.SeedRooms(context.Background(), []domain.ChatRoom{
		{ID: "R42", Title: "Strength block", MemberID: "m1", CoachID: "c1"},
		{ID: "R7", MemberID: "m2", CoachID: "c1"},
	}))

	f := &fixture{srv: srv, http: httptest.NewServer(srv.Router()), tokens: make(map[domain.UserID]string)}
	t.Cleanup(f.http.Close)
	for uid, role := range map[domain.UserID]domain.Role{"m1": domain.RoleMember, "m2": domain.RoleMember, "c1": domain.RoleCoach} {
		tok, err := srv.Issuer().Mint(uid, role)
		require.NoError(t, err)
		f.tokens[uid] = tok
	}
	return f
}

func (f *fixture) client(uid domain.UserID) *backend.Client {
	return backend.New(f.http.URL+"/api", f.tokens[uid], 5*time.Second)
}

func (f *fixture) dial(t *testing.T, uid domain.UserID, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + path + "?token=" + f.tokens[uid]
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type    core.FrameType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Offer   json.RawMessage `json:"offer"`
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// eventually retries fn until the socket registration has landed.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	require.Eventually(t, fn, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) online(uid domain.UserID) bool {
	f.srv.hub.mu.Lock()
	defer f.srv.hub.mu.Unlock()
	return f.srv.hub.presence[uid] != nil
}

func TestRequestsNeedAValidToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	resp, err := http.Get(f.http.URL + "/api/chat/rooms/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := backend.New(f.http.URL+"/api", "forged", time.Second)
	_, err = bad.Rooms(context.Background())
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
}

func TestCallLifecycleNotifiesBothSides(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	coachPresence := f.dial(t, "c1", "/ws/user/call/")
	memberPresence := f.dial(t, "m1", "/ws/user/call/")
	eventually(t, func() bool { return f.online("c1") && f.online("m1") })

	ctx := context.Background()
	call, err := f.client("m1").StartCall(ctx, "R42")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("R42"), call.RoomID)

	in := read(t, coachPresence)
	assert.Equal(t, core.FrameIncomingCall, in.Type)
	assert.JSONEq(t, `{"call_id":"`+string(call.ID)+`","room_id":"R42","caller_id":"m1","caller_role":"member"}`, string(in.Payload))

	_, err = f.client("m2").StartCall(ctx, "R7")
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusConflict, reqErr.Status, "coach is busy")

	_, err = f.client("m2").StartCall(ctx, "R42")
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Status)

	_, err = f.client("m1").AcceptCall(ctx, call.ID)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Status, "the caller cannot accept")

	accepted, err := f.client("c1").AcceptCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallAccepted, accepted.Status)
	assert.Equal(t, core.FrameCallAccepted, read(t, memberPresence).Type)

	require.NoError(t, f.client("c1").EndCall(ctx, call.ID))
	ended := read(t, memberPresence)
	assert.Equal(t, core.FrameCallEnded, ended.Type)
	assert.Contains(t, string(ended.Payload), string(call.ID))

	err = f.client("m1").EndCall(ctx, call.ID)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)
}

func TestSignalingRelayKeepsFramesForLateJoiner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	call, err := f.client("m1").StartCall(context.Background(), "R42")
	require.NoError(t, err)
	path := "/ws/calls/" + string(call.ID) + "/"

	caller := f.dial(t, "m1", path)
	offer := `{"type":"CALL_OFFER","offer":{"type":"offer","sdp":"v=0"}}`
	require.NoError(t, caller.WriteMessage(websocket.TextMessage, []byte(offer)))
	require.NoError(t, caller.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`)))
	eventually(t, func() bool {
		f.srv.hub.mu.Lock()
		defer f.srv.hub.mu.Unlock()
		return len(f.srv.hub.backlog[call.ID]["c1"]) == 1
	})

	callee := f.dial(t, "c1", path)
	got := read(t, callee)
	assert.Equal(t, core.FrameCallOffer, got.Type)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.Offer))

	answer := `{"type":"CALL_ANSWER","answer":{"type":"answer","sdp":"v=0"}}`
	require.NoError(t, callee.WriteMessage(websocket.TextMessage, []byte(answer)))
	assert.Equal(t, core.FrameCallAnswer, read(t, caller).Type)

	require.NoError(t, f.client("m1").EndCall(context.Background(), call.ID))
	assert.Equal(t, core.FrameCallEnded, read(t, callee).Type)
}

func TestSignalingSocketRejectsStrangers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	call, err := f.client("m1").StartCall(context.Background(), "R42")
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/calls/" + string(call.ID) + "/?token=" + f.tokens["m2"]
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatHistoryPagesAndFanOut(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	f := newFixture(t, Config{PageSize: 2, Clock: mock})
	ctx := context.Background()

	watcher := f.dial(t, "c1", "/ws/chat/R42/")
	eventually(t, func() bool {
		f.srv.hub.mu.Lock()
		defer f.srv.hub.mu.Unlock()
		return len(f.srv.hub.chats["R42"]) == 1
	})

	member := f.client("m1")
	for _, text := range []string{"one", "two", "three"} {
		_, err := member.SendText(ctx, "R42", text)
		require.NoError(t, err)
		mock.Add(time.Second)
	}
	push := read(t, watcher)
	assert.Equal(t, core.FrameMessage, push.Type)
	var pushed domain.Message
	require.NoError(t, json.Unmarshal(push.Payload, &pushed))
	assert.Equal(t, "one", pushed.Text)
	assert.Equal(t, domain.RoleMember, pushed.SenderRole)

	latest, err := member.Messages(ctx, "R42", "")
	require.NoError(t, err)
	require.Len(t, latest.Results, 2)
	assert.Equal(t, "two", latest.Results[0].Text)
	assert.Equal(t, "three", latest.Results[1].Text)
	assert.Equal(t, "2", latest.Next)

	older, err := member.Messages(ctx, "R42", latest.Next)
	require.NoError(t, err)
	require.Len(t, older.Results, 1)
	assert.Equal(t, "one", older.Results[0].Text)
	assert.Empty(t, older.Next)
	assert.Equal(t, "0", older.Previous)

	rooms, err := f.client("c1").Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "three", rooms[0].LastMessage.Text)

	_, err = f.client("m2").Messages(ctx, "R42", "")
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Status)
}

func TestMediaUploadIsServed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	msg, err := f.client("c1").SendMedia(context.Background(), domain.MediaUpload{
		RoomID:      "R42",
		Type:        domain.MessageAudio,
		FileName:    "note.ogg",
		Content:     bytes.NewReader(png),
		DurationSec: 3.5,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageAudio, msg.Type)
	assert.InDelta(t, 3.5, msg.DurationSec, 1e-9)
	require.True(t, strings.HasPrefix(msg.MediaURL, "/media/"))

	resp, err := http.Get(f.http.URL + msg.MediaURL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, png, body)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestSendsAreRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{SendLimit: 2, SendInterval: time.Minute})
	member := f.client("m1")
	for i := 0; i < 2; i++ {
		_, err := member.SendText(context.Background(), "R42", "hi")
		require.NoError(t, err)
	}
	_, err := member.SendText(context.Background(), "R42", "hi")
	var reqErr *domain.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.Status)
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	rl := NewRateLimiter(2, 10*time.Second, mock)
	assert.True(t, rl.Allow("u"))
	mock.Add(4 * time.Second)
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	assert.True(t, rl.Allow("other"))

	mock.Add(6 * time.Second)
	assert.True(t, rl.Allow("u"), "the first attempt left the window")
	assert.False(t, rl.Allow("u"))
}

func TestSimplePolicy(t *testing.T) {
	t.Parallel()

	var p SimplePolicy
	assert.Equal(t, KickPeer, p.OnBackpressure(channelSignaling, nil))
	assert.Equal(t, DropFrame, p.OnBackpressure(channelChat, nil))
	assert.Equal(t, DropFrame, p.OnBackpressure(channelPresence, nil))
}
