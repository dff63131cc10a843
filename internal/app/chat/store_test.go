package chat

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/coachrtc/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, text string) domain.Message {
	return domain.Message{ID: domain.MessageID(id), RoomID: "R42", Type: domain.MessageText, Text: text, CreatedAt: t0.Add(offset)}
}

func ids(ms []domain.Message) []domain.MessageID {
	out := make([]domain.MessageID, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func assertOrderedUnique(t *testing.T, ms []domain.Message) {
	t.Helper()
	seen := map[domain.MessageID]bool{}
	for i, m := range ms {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(ms[i-1].CreatedAt), "out of order at %d", i)
		}
	}
}

func TestMergeSortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	existing := []domain.Message{msg("1", 0, "a"), msg("3", 2*time.Second, "c")}
	batch := []domain.Message{msg("2", time.Second, "b"), msg("3", 2*time.Second, "c-dup"), msg("2", time.Second, "b-dup")}

	got := Merge(existing, batch)
	assert.Equal(t, []domain.MessageID{"1", "2", "3"}, ids(got))
	assert.Equal(t, "c", got[2].Text, "first occurrence wins")
	assert.Equal(t, "b", got[1].Text)
	assert.Len(t, existing, 2, "input untouched")
}

func TestMergeIsStableForEqualTimestamps(t *testing.T) {
	t.Parallel()

	got := Merge([]domain.Message{msg("a", 0, ""), msg("b", 0, "")}, []domain.Message{msg("c", 0, "")})
	assert.Equal(t, []domain.MessageID{"a", "b", "c"}, ids(got))
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	batch := []domain.Message{msg("2", time.Second, ""), msg("1", 0, "")}
	once := s.Merge("R42", batch)
	twice := s.Merge("R42", batch)
	assert.Equal(t, once, twice)
}

func TestPagesMergedInAnyOrderConverge(t *testing.T) {
	t.Parallel()

	var all []domain.Message
	for i := 0; i < 60; i++ {
		all = append(all, msg(fmt.Sprintf("m%02d", i), time.Duration(i/2)*time.Second, ""))
	}
	var pages [][]domain.Message
	for i := 0; i < len(all); i += 10 {
		pages = append(pages, all[i:i+10])
	}
	// overlapping pages and live pushes
	pages = append(pages, all[5:15], all[55:])

	want := NewStore().Merge("R42", all)
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 20; trial++ {
		s := NewStore()
		for _, i := range rng.Perm(len(pages)) {
			s.Merge("R42", pages[i])
		}
		got := s.Messages("R42")
		assertOrderedUnique(t, got)
		require.Len(t, got, len(all))
		assert.ElementsMatch(t, ids(want), ids(got))
	}
}

func TestMarkReadAndUnread(t *testing.T) {
	t.Parallel()

	s := NewStore()
	mine := msg("1", 0, "")
	mine.SenderID = "me"
	theirs := msg("2", time.Second, "")
	theirs.SenderID = "coach"
	s.Merge("R42", []domain.Message{mine, theirs})

	assert.Equal(t, 1, s.Unread("R42", "me"))
	assert.Equal(t, 2, s.MarkRead("R42", t0.Add(time.Hour)))
	assert.Equal(t, 0, s.MarkRead("R42", t0.Add(2*time.Hour)))
	assert.Equal(t, 0, s.Unread("R42", "me"))
	require.NotNil(t, s.Messages("R42")[0].ReadAt)
	assert.Equal(t, t0.Add(time.Hour), *s.Messages("R42")[0].ReadAt)
}

func TestSubscribeNotifiesChangedRoom(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ch, cancel := s.Subscribe()
	s.Merge("R7", []domain.Message{msg("1", 0, "")})

	select {
	case room := <-ch:
		assert.Equal(t, domain.RoomID("R7"), room)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	s.Reset("R7")
	assert.Empty(t, s.Messages("R7"))
}
