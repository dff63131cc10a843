package core

import (
	"context"

	"github.com/dkeye/coachrtc/internal/domain"
)

// CallAPI is the call lifecycle surface of the backend.
type CallAPI interface {
	StartCall(ctx context.Context, room domain.RoomID) (domain.Call, error)
	AcceptCall(ctx context.Context, id domain.CallID) (domain.Call, error)
	EndCall(ctx context.Context, id domain.CallID) error
}

// ChatAPI is the chat surface of the backend.
type ChatAPI interface {
	Rooms(ctx context.Context) ([]domain.ChatRoom, error)
	Messages(ctx context.Context, room domain.RoomID, cursor string) (domain.MessagePage, error)
	SendText(ctx context.Context, room domain.RoomID, text string) (domain.Message, error)
	SendMedia(ctx context.Context, upload domain.MediaUpload) (domain.Message, error)
}
