package backend

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dkeye/coachrtc/internal/domain"
)

type callResponse struct {
	ID     domain.CallID     `json:"id"`
	CallID domain.CallID     `json:"call_id"`
	RoomID domain.RoomID     `json:"room_id"`
	Status domain.CallStatus `json:"status"`
}

func (r callResponse) call() domain.Call {
	id := r.CallID
	if id == "" {
		id = r.ID
	}
	return domain.Call{ID: id, RoomID: r.RoomID, Status: r.Status}
}

func callPath(format string, id string) string {
	return fmt.Sprintf(format, url.PathEscape(id))
}

// StartCall asks the backend to ring the other participant of room.
func (c *Client) StartCall(ctx context.Context, room domain.RoomID) (domain.Call, error) {
	var resp callResponse
	if err := c.postJSON(ctx, "start call", callPath("calls/start/%s/", string(room)), nil, &resp); err != nil {
		return domain.Call{}, err
	}
	call := resp.call()
	if call.ID == "" {
		return domain.Call{}, &domain.RequestError{Op: "start call", Err: fmt.Errorf("response has no call id")}
	}
	if call.RoomID == "" {
		call.RoomID = room
	}
	return call, nil
}

// AcceptCall may return an empty call when the backend replies without a body.
func (c *Client) AcceptCall(ctx context.Context, id domain.CallID) (domain.Call, error) {
	var resp callResponse
	if err := c.postJSON(ctx, "accept call", callPath("calls/%s/accept/", string(id)), nil, &resp); err != nil {
		return domain.Call{}, err
	}
	call := resp.call()
	if call.ID == "" {
		call.ID = id
	}
	return call, nil
}

func (c *Client) EndCall(ctx context.Context, id domain.CallID) error {
	return c.postJSON(ctx, "end call", callPath("calls/%s/end/", string(id)), nil, nil)
}
