package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dkeye/coachrtc/internal/domain"
)

// flexibleList decodes either a bare array or a paginated
// `{results, next, previous}` object.
type flexibleList[T any] struct {
	Results  []T
	Next     *string
	Previous *string
}

func (l *flexibleList[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &l.Results)
	}
	var page struct {
		Results  []T     `json:"results"`
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
	}
	if err := json.Unmarshal(b, &page); err != nil {
		return err
	}
	l.Results, l.Next, l.Previous = page.Results, page.Next, page.Previous
	return nil
}

// CursorOf extracts the cursor parameter from a pagination link. Links that
// are not URLs are treated as the cursor itself.
func CursorOf(link *string) string {
	if link == nil || *link == "" {
		return ""
	}
	u, err := url.Parse(*link)
	if err != nil || u.RawQuery == "" {
		return *link
	}
	if cur := u.Query().Get("cursor"); cur != "" {
		return cur
	}
	return *link
}

func (c *Client) Rooms(ctx context.Context) ([]domain.ChatRoom, error) {
	var list flexibleList[domain.ChatRoom]
	if err := c.do(ctx, "list rooms", http.MethodGet, "chat/rooms/", nil, nil, "", &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// Messages fetches one history page. An empty cursor asks for the latest page.
func (c *Client) Messages(ctx context.Context, room domain.RoomID, cursor string) (domain.MessagePage, error) {
	var query url.Values
	if cursor != "" {
		query = url.Values{"cursor": {cursor}}
	}
	var list flexibleList[domain.Message]
	path := fmt.Sprintf("chat/rooms/%s/messages/", url.PathEscape(string(room)))
	if err := c.do(ctx, "list messages", http.MethodGet, path, query, nil, "", &list); err != nil {
		return domain.MessagePage{}, err
	}
	for i := range list.Results {
		if list.Results[i].RoomID == "" {
			list.Results[i].RoomID = room
		}
	}
	return domain.MessagePage{
		Results:  list.Results,
		Next:     CursorOf(list.Next),
		Previous: CursorOf(list.Previous),
	}, nil
}

func (c *Client) SendText(ctx context.Context, room domain.RoomID, text string) (domain.Message, error) {
	if text == "" {
		return domain.Message{}, domain.ErrMessageEmpty
	}
	in := struct {
		RoomID domain.RoomID `json:"room_id"`
		Text   string        `json:"text"`
	}{room, text}
	var msg domain.Message
	if err := c.postJSON(ctx, "send text", "chat/send/text/", in, &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.RoomID == "" {
		msg.RoomID = room
	}
	return msg, nil
}

func (c *Client) SendMedia(ctx context.Context, upload domain.MediaUpload) (domain.Message, error) {
	if err := upload.Validate(); err != nil {
		return domain.Message{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("room_id", string(upload.RoomID))
	_ = mw.WriteField("type", string(upload.Type))
	if upload.DurationSec > 0 {
		_ = mw.WriteField("duration_sec", strconv.FormatFloat(upload.DurationSec, 'f', -1, 64))
	}
	name := upload.FileName
	if name == "" {
		name = string(upload.Type)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return domain.Message{}, &domain.RequestError{Op: "send media", Err: err}
	}
	if _, err := io.Copy(fw, upload.Content); err != nil {
		return domain.Message{}, &domain.RequestError{Op: "send media", Err: fmt.Errorf("read upload: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return domain.Message{}, &domain.RequestError{Op: "send media", Err: err}
	}

	var msg domain.Message
	if err := c.do(ctx, "send media", http.MethodPost, "chat/send/media/", nil, &buf, mw.FormDataContentType(), &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.RoomID == "" {
		msg.RoomID = upload.RoomID
	}
	return msg, nil
}
