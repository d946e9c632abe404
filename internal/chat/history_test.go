package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"tutorlink/chat/internal/models"
)

func msg(id, conv int64, text string) models.Message {
	return models.Message{ID: id, ConversationID: conv, SenderID: 1, ReceiverID: 2, Text: text}
}

func messageIDs(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestHistoryStore_OpenCompletes(t *testing.T) {
	h := NewHistoryStore()
	assert.Equal(t, PaneUnselected, h.State())

	ticket := h.Open(7)
	assert.Equal(t, PaneLoading, h.State())

	applied := h.Complete(ticket, []models.Message{msg(1, 7, "hi")}, nil)

	assert.True(t, applied)
	assert.Equal(t, PaneReady, h.State())
	assert.Equal(t, []int64{1}, messageIDs(h.Messages()))
}

func TestHistoryStore_StaleTicketDiscarded(t *testing.T) {
	h := NewHistoryStore()
	a := h.Open(1)
	b := h.Open(2)

	assert.True(t, h.Complete(b, []models.Message{msg(20, 2, "b")}, nil))
	assert.False(t, h.Complete(a, []models.Message{msg(10, 1, "a")}, nil))

	assert.Equal(t, int64(2), h.Active())
	assert.Equal(t, []int64{20}, messageIDs(h.Messages()))
}

func TestHistoryStore_ReopenSameConversationInvalidatesEarlierTicket(t *testing.T) {
	h := NewHistoryStore()
	first := h.Open(3)
	second := h.Open(3)

	assert.False(t, h.Complete(first, nil, nil))
	assert.True(t, h.Complete(second, []models.Message{msg(1, 3, "x")}, nil))
}

func TestHistoryStore_FailureLeavesEmptyLog(t *testing.T) {
	h := NewHistoryStore()
	ticket := h.Open(4)
	h.Append(msg(5, 4, "live"))

	applied := h.Complete(ticket, nil, errors.New("boom"))

	assert.True(t, applied)
	assert.Equal(t, PaneError, h.State())
	assert.Error(t, h.Err())
	assert.Empty(t, h.Messages())
	assert.False(t, h.Append(msg(6, 4, "after")), "error pane takes no live messages")

	h.Open(4)
	assert.Equal(t, PaneLoading, h.State())
	assert.NoError(t, h.Err())
}

func TestHistoryStore_AppendFiltersByActiveConversation(t *testing.T) {
	h := NewHistoryStore()
	assert.False(t, h.Append(msg(1, 7, "nobody looking")))

	h.Complete(h.Open(7), nil, nil)

	assert.False(t, h.Append(msg(2, 8, "other")))
	assert.True(t, h.Append(msg(3, 7, "mine")))
	assert.False(t, h.Append(msg(3, 7, "mine again")))
	assert.Equal(t, []int64{3}, messageIDs(h.Messages()))
}

func TestHistoryStore_LiveMessagesDuringLoadAreMerged(t *testing.T) {
	h := NewHistoryStore()
	ticket := h.Open(7)

	assert.True(t, h.Append(msg(2, 7, "fetched too")))
	assert.True(t, h.Append(msg(3, 7, "only live")))
	assert.Empty(t, h.Messages())

	h.Complete(ticket, []models.Message{msg(1, 7, "a"), msg(2, 7, "b")}, nil)

	assert.Equal(t, []int64{1, 2, 3}, messageIDs(h.Messages()))
}

func TestHistoryStore_ResetInvalidatesTicket(t *testing.T) {
	h := NewHistoryStore()
	ticket := h.Open(7)

	h.Reset()

	assert.False(t, h.Complete(ticket, []models.Message{msg(1, 7, "late")}, nil))
	assert.Equal(t, PaneUnselected, h.State())
	assert.Zero(t, h.Active())
}

func TestHistoryStore_HasAndAccepting(t *testing.T) {
	h := NewHistoryStore()
	assert.False(t, h.Accepting())

	ticket := h.Open(7)
	assert.True(t, h.Accepting())
	h.Complete(ticket, []models.Message{msg(1, 7, "hi")}, nil)

	assert.True(t, h.Has(1))
	assert.False(t, h.Has(2))
	assert.True(t, h.Accepting())

	failed := h.Open(8)
	h.Complete(failed, nil, errors.New("boom"))
	assert.False(t, h.Has(1))
	assert.False(t, h.Accepting())
}

func TestRecentIDs_EvictsOldest(t *testing.T) {
	r := newRecentIDs(2)

	assert.True(t, r.Mark(1))
	assert.True(t, r.Mark(2))
	assert.False(t, r.Mark(1))
	assert.True(t, r.Mark(3))
	assert.True(t, r.Mark(1), "1 was evicted by 3")
	assert.False(t, r.Mark(3))
}
