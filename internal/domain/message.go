package domain

import (
	"errors"
	"io"
	"time"
)

var (
	ErrMessageEmpty     = errors.New("message empty")
	ErrMessageTypeWrong = errors.New("unsupported message type")
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
)

func (t MessageType) Media() bool {
	return t == MessageImage || t == MessageAudio || t == MessageVideo
}

type Message struct {
	ID          MessageID   `json:"id"`
	RoomID      RoomID      `json:"room_id"`
	SenderID    UserID      `json:"sender_id"`
	SenderRole  Role        `json:"sender_role,omitempty"`
	Type        MessageType `json:"type"`
	Text        string      `json:"text,omitempty"`
	MediaURL    string      `json:"media_url,omitempty"`
	DurationSec float64     `json:"duration_sec,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
}

type ChatRoom struct {
	ID          RoomID   `json:"id"`
	Title       string   `json:"title,omitempty"`
	MemberID    UserID   `json:"member_id"`
	CoachID     UserID   `json:"coach_id"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// Has reports whether uid participates in the room.
func (r ChatRoom) Has(uid UserID) bool { return r.MemberID == uid || r.CoachID == uid }

// Peer returns the other participant of the room.
func (r ChatRoom) Peer(uid UserID) UserID {
	if r.MemberID == uid {
		return r.CoachID
	}
	return r.MemberID
}

// MessagePage is one page of room history. Next and Previous are opaque
// cursors; empty means no further page in that direction.
type MessagePage struct {
	Results  []Message
	Next     string
	Previous string
}

type MediaUpload struct {
	RoomID      RoomID
	Type        MessageType
	FileName    string
	Content     io.Reader
	DurationSec float64
}

func (u MediaUpload) Validate() error {
	if !u.Type.Media() {
		return ErrMessageTypeWrong
	}
	if u.Content == nil {
		return ErrMessageEmpty
	}
	return nil
}
