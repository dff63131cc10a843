package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/domain"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	c := New(server.URL+"/api", "tok-1", time.Second)
	c.HTTPClient = server.Client()
	return c
}

func TestStartCallPostsToRoomAndParsesCall(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/calls/start/R42/", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"call_id":17,"room_id":"R42","status":"ringing"}`))
	})

	call, err := c.StartCall(context.Background(), "R42")
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("17"), call.ID)
	assert.Equal(t, domain.RoomID("R42"), call.RoomID)
}

func TestAcceptAndEndCall(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	call, err := c.AcceptCall(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("c9"), call.ID)
	require.NoError(t, c.EndCall(context.Background(), "c9"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/calls/c9/accept/", "/api/calls/c9/end/"}, paths)
}

func TestFailedRequestIsRequestError(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"call already ended"}`, http.StatusConflict)
	})

	err := c.EndCall(context.Background(), "c1")
	var re *domain.RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Contains(t, re.Body, "call already ended")
	assert.Equal(t, "end call", re.Op)
}

func TestRequestTimesOut(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.RequestTimeout = 20 * time.Millisecond

	_, err := c.StartCall(context.Background(), "R1")
	require.Error(t, err)
	assert.True(t, domain.IsRequestError(err))
	assert.Contains(t, err.Error(), "start call")
}

func TestMessagesAcceptsPaginatedAndBareResponses(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/rooms/R42/messages/", r.URL.Path)
		if r.URL.Query().Get("cursor") == "older" {
			_, _ = w.Write([]byte(`[{"id":1,"sender_id":"m1","type":"text","text":"hi","created_at":"2026-01-01T10:00:00Z"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":2,"room_id":42,"type":"text","text":"yo","created_at":"2026-01-01T10:01:00Z"}],` +
			`"next":"http://backend/api/chat/rooms/R42/messages/?cursor=older","previous":null}`))
	})

	page, err := c.Messages(context.Background(), "R42", "")
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, domain.RoomID("42"), page.Results[0].RoomID)
	assert.Equal(t, "older", page.Next)
	assert.Empty(t, page.Previous)

	page, err = c.Messages(context.Background(), "R42", "older")
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, domain.MessageID("1"), page.Results[0].ID)
	assert.Equal(t, domain.RoomID("R42"), page.Results[0].RoomID)
	assert.Empty(t, page.Next)
}

func TestSendTextAndMedia(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/send/text/":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			b, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"room_id":"R42","text":"hello"}`, string(b))
			_, _ = w.Write([]byte(`{"id":"m1","type":"text","text":"hello","created_at":"2026-01-01T10:00:00Z"}`))
		case "/api/chat/send/media/":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "R42", r.FormValue("room_id"))
			assert.Equal(t, "audio", r.FormValue("type"))
			assert.Equal(t, "3.5", r.FormValue("duration_sec"))
			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			assert.Equal(t, "note.ogg", hdr.Filename)
			_, _ = w.Write([]byte(`{"id":"m2","type":"audio","media_url":"/media/m2","duration_sec":3.5,"created_at":"2026-01-01T10:00:01Z"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	msg, err := c.SendText(context.Background(), "R42", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID("m1"), msg.ID)
	assert.Equal(t, domain.RoomID("R42"), msg.RoomID)

	_, err = c.SendText(context.Background(), "R42", "")
	assert.ErrorIs(t, err, domain.ErrMessageEmpty)

	msg, err = c.SendMedia(context.Background(), domain.MediaUpload{
		RoomID:      "R42",
		Type:        domain.MessageAudio,
		FileName:    "note.ogg",
		Content:     strings.NewReader("OggS"),
		DurationSec: 3.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "/media/m2", msg.MediaURL)

	_, err = c.SendMedia(context.Background(), domain.MediaUpload{RoomID: "R42", Type: domain.MessageText, Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, domain.ErrMessageTypeWrong)
}

func TestRoomsBareArray(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/rooms/", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"R42","member_id":"m1","coach_id":"c1"}]`))
	})

	rooms, err := c.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.UserID("c1"), rooms[0].CoachID)
}

func TestCursorOf(t *testing.T) {
	t.Parallel()

	link := "https://x/api/chat/rooms/1/messages/?cursor=abc%3D&page_size=20"
	plain := "opaque"
	assert.Equal(t, "abc=", CursorOf(&link))
	assert.Equal(t, "opaque", CursorOf(&plain))
	assert.Equal(t, "", CursorOf(nil))
}
