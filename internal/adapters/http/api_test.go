package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/adapters/rtc/rtctest"
	"github.com/dkeye/coachrtc/internal/app/orch"
	"github.com/dkeye/coachrtc/internal/app/session"
	"github.com/dkeye/coachrtc/internal/devserver"
	"github.com/dkeye/coachrtc/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

type apiFixture struct {
	api   *httptest.Server
	token string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store, err := devserver.OpenStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	dev := devserver.New(devserver.Config{Secret: "s"}, store)
	require.NoError(t, dev.SeedRooms(context.Background(), []domain.ChatRoom{{ID: "R42", MemberID: "m1", CoachID: "c1"}}))
	backendSrv := httptest.NewServer(dev.Router())
	t.Cleanup(backendSrv.Close)

	token, err := dev.Issuer().Mint("m1", domain.RoleMember)
	require.NoError(t, err)

	client := orch.New(context.Background(), orch.Config{
		Settings: session.Settings{Endpoints: session.Endpoints{
			BackendURL: backendSrv.URL + "/api",
			WSBase:     "ws" + strings.TrimPrefix(backendSrv.URL, "http"),
		}},
		Peers: &rtctest.Factory{},
		Media: &rtctest.Source{},
	})
	t.Cleanup(client.Close)

	f := &apiFixture{api: httptest.NewServer(SetupRouter("test", client)), token: token}
	t.Cleanup(f.api.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := nethttp.NewRequest(method, f.api.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (f *apiFixture) login(t *testing.T) {
	t.Helper()
	status, body := f.do(t, nethttp.MethodPut, "/api/identity", map[string]string{"token": f.token})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "m1", body["id"])
	assert.Equal(t, "member", body["role"])
	require.Eventually(t, func() bool {
		_, st := f.do(t, nethttp.MethodGet, "/api/state", nil)
		return st["presence"] == "open"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStateBeforeIdentity(t *testing.T) {
	t.Parallel()

	f := newAPI(t)
	status, body := f.do(t, nethttp.MethodGet, "/api/state", nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Nil(t, body["identity"])
	assert.Equal(t, "closed", body["presence"])

	status, _ = f.do(t, nethttp.MethodPost, "/api/calls", map[string]string{"room_id": "R42"})
	assert.Equal(t, nethttp.StatusConflict, status)

	status, _ = f.do(t, nethttp.MethodPut, "/api/identity", map[string]string{"token": "garbage"})
	assert.Equal(t, nethttp.StatusBadRequest, status)

	status, _ = f.do(t, nethttp.MethodPut, "/api/identity", map[string]string{"token": f.token, "role": "admin"})
	assert.Equal(t, nethttp.StatusBadRequest, status)
}

func TestRoomLifecycleThroughAPI(t *testing.T) {
	t.Parallel()

	f := newAPI(t)
	f.login(t)

	status, body := f.do(t, nethttp.MethodPost, "/api/rooms/R42/join", nil)
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "R42", body["id"])

	status, body = f.do(t, nethttp.MethodPost, "/api/rooms/R42/messages", map[string]string{"text": "ready for tomorrow"})
	require.Equal(t, nethttp.StatusCreated, status, body)
	assert.Equal(t, "ready for tomorrow", body["text"])

	status, _ = f.do(t, nethttp.MethodPost, "/api/rooms/R42/messages", map[string]string{"text": ""})
	assert.Equal(t, nethttp.StatusBadRequest, status)

	_, body = f.do(t, nethttp.MethodGet, "/api/rooms/R42/messages", nil)
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 0, body["unread"])

	status, _ = f.do(t, nethttp.MethodPost, "/api/rooms/R42/history/older", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)

	status, _ = f.do(t, nethttp.MethodPost, "/api/rooms/R9/messages", map[string]string{"text": "hi"})
	assert.Equal(t, nethttp.StatusNotFound, status)

	status, _ = f.do(t, nethttp.MethodDelete, "/api/rooms/R42", nil)
	assert.Equal(t, nethttp.StatusNoContent, status)
	status, _ = f.do(t, nethttp.MethodDelete, "/api/rooms/R42", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
}

func TestEventsStreamCallSnapshots(t *testing.T) {
	t.Parallel()

	f := newAPI(t)
	f.login(t)

	u := "ws" + strings.TrimPrefix(f.api.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	status, body := f.do(t, nethttp.MethodPost, "/api/calls", map[string]string{"room_id": "R42"})
	require.Equal(t, nethttp.StatusCreated, status, body)
	assert.Equal(t, "ringing", body["status"])
	callID, _ := body["call_id"].(string)
	require.NotEmpty(t, callID)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev struct {
		Type string `json:"type"`
		Call struct {
			Call domain.Call `json:"call"`
		} `json:"call"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "call", ev.Type)
	assert.Equal(t, domain.CallRinging, ev.Call.Call.Status)

	status, _ = f.do(t, nethttp.MethodPost, "/api/calls", map[string]string{"room_id": "R42"})
	assert.Equal(t, nethttp.StatusConflict, status)

	status, _ = f.do(t, nethttp.MethodPost, "/api/calls/"+callID+"/reject", nil)
	assert.Equal(t, nethttp.StatusConflict, status, "only an incoming call can be rejected")

	status, _ = f.do(t, nethttp.MethodPost, "/api/calls/"+callID+"/end", nil)
	assert.Equal(t, nethttp.StatusNoContent, status)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.CallEnded, ev.Call.Call.Status)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, nethttp.StatusBadGateway, statusOf(&domain.RequestError{Op: "x", Status: 500}))
	assert.Equal(t, nethttp.StatusNotFound, statusOf(domain.ErrNoCall))
	assert.Equal(t, nethttp.StatusConflict, statusOf(domain.ErrCallInProgress))
	assert.Equal(t, nethttp.StatusBadRequest, statusOf(domain.ErrMessageEmpty))
	assert.Equal(t, nethttp.StatusConflict, statusOf(orch.ErrNoIdentity))
}
