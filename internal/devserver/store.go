package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkeye/coachrtc/internal/domain"
)

var ErrRoomNotFound = errors.New("room not found")

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id        TEXT PRIMARY KEY,
	title     TEXT NOT NULL DEFAULT '',
	member_id TEXT NOT NULL,
	coach_id  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	room_id      TEXT NOT NULL REFERENCES rooms(id),
	sender_id    TEXT NOT NULL,
	sender_role  TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	text         TEXT NOT NULL DEFAULT '',
	media_url    TEXT NOT NULL DEFAULT '',
	duration_sec REAL NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room ON messages(room_id, created_at, seq);
`

// Store keeps rooms and chat history in SQLite.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under test load
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutRoom creates the room or updates its participants.
func (s *Store) PutRoom(ctx context.Context, r domain.ChatRoom) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rooms (id, title, member_id, coach_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			member_id=excluded.member_id,
			coach_id=excluded.coach_id`,
		r.ID, r.Title, r.MemberID, r.CoachID)
	return err
}

func (s *Store) Room(ctx context.Context, id domain.RoomID) (domain.ChatRoom, error) {
	var r domain.ChatRoom
	err := s.db.QueryRowContext(ctx, `SELECT id, title, member_id, coach_id FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Title, &r.MemberID, &r.CoachID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatRoom{}, ErrRoomNotFound
	}
	return r, err
}

// RoomsOf returns the rooms uid participates in, with their latest message.
func (s *Store) RoomsOf(ctx context.Context, uid domain.UserID) ([]domain.ChatRoom, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, member_id, coach_id FROM rooms
		WHERE member_id = ? OR coach_id = ? ORDER BY id`, uid, uid)
	if err != nil {
		return nil, err
	}
	var rooms []domain.ChatRoom
	for rows.Next() {
		var r domain.ChatRoom
		if err := rows.Scan(&r.ID, &r.Title, &r.MemberID, &r.CoachID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		rooms = append(rooms, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range rooms {
		page, _, err := s.Messages(ctx, rooms[i].ID, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(page) == 1 {
			rooms[i].LastMessage = &page[0]
		}
	}
	return rooms, nil
}

func (s *Store) AddMessage(ctx context.Context, m domain.Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(id, room_id, sender_id, sender_role, type, text, media_url, duration_sec, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RoomID, m.SenderID, m.SenderRole, m.Type, m.Text, m.MediaURL, m.DurationSec, m.CreatedAt.UnixMilli())
	return err
}

// Messages returns up to limit messages of room, skipping the newest offset
// ones, oldest first. more reports whether older messages remain.
func (s *Store) Messages(ctx context.Context, room domain.RoomID, offset, limit int) (page []domain.Message, more bool, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, room_id, sender_id, sender_role, type, text, media_url, duration_sec, created_at
		FROM messages WHERE room_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?`, room, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			m  domain.Message
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderRole, &m.Type, &m.Text, &m.MediaURL, &m.DurationSec, &ms); err != nil {
			return nil, false, err
		}
		m.CreatedAt = time.UnixMilli(ms).UTC()
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(page) > limit {
		page, more = page[:limit], true
	}
	slices.Reverse(page)
	return page, more, nil
}
