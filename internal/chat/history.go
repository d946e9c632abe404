package chat

import "tutorlink/chat/internal/models"

// PaneState is the lifecycle of the message pane:
// unselected -> loading -> ready | error, and back to loading on reselect.
type PaneState string

const (
	PaneUnselected PaneState = "unselected"
	PaneLoading    PaneState = "loading"
	PaneReady      PaneState = "ready"
	PaneError      PaneState = "error"
)

// Ticket identifies one history fetch. Only the ticket of the latest Open
// can complete.
type Ticket struct {
	ConversationID int64
	seq            uint64
}

// HistoryStore is the log of the open conversation, in arrival order.
// Owned by the orchestrator loop.
type HistoryStore struct {
	active int64
	state  PaneState
	err    error
	seq    uint64

	log []models.Message
	ids map[int64]struct{}

	// live messages that arrived while the fetch was in flight
	pending []models.Message
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		state: PaneUnselected,
		ids:   make(map[int64]struct{}),
	}
}

// Open clears the pane and starts loading conversationID. Any earlier
// ticket becomes stale.
func (h *HistoryStore) Open(conversationID int64) Ticket {
	h.seq++
	h.active = conversationID
	h.state = PaneLoading
	h.err = nil
	h.clear()
	return Ticket{ConversationID: conversationID, seq: h.seq}
}

// Complete applies a fetch result. It reports false, changing nothing, when
// the ticket was superseded.
func (h *HistoryStore) Complete(t Ticket, msgs []models.Message, err error) bool {
	if t.seq != h.seq || t.ConversationID != h.active || h.state != PaneLoading {
		return false
	}

	pending := h.pending
	h.clear()

	if err != nil {
		h.state = PaneError
		h.err = err
		return true
	}

	for _, m := range msgs {
		h.push(m)
	}
	for _, m := range pending {
		h.push(m)
	}
	h.state = PaneReady
	return true
}

// Append adds msg to the open log if it belongs to the active conversation.
// While loading it is held until the fetch completes. Known ids are ignored.
func (h *HistoryStore) Append(msg models.Message) bool {
	if h.active == 0 || msg.ConversationID != h.active {
		return false
	}

	switch h.state {
	case PaneLoading:
		for _, p := range h.pending {
			if p.ID == msg.ID {
				return false
			}
		}
		h.pending = append(h.pending, msg)
		return true
	case PaneReady:
		return h.push(msg)
	default:
		return false
	}
}

// Reset returns to the unselected state and invalidates outstanding tickets.
func (h *HistoryStore) Reset() {
	h.seq++
	h.active = 0
	h.state = PaneUnselected
	h.err = nil
	h.clear()
}

// Has reports whether id is already in the displayed log.
func (h *HistoryStore) Has(id int64) bool {
	_, ok := h.ids[id]
	return ok
}

// Accepting reports whether appended messages can reach the log.
func (h *HistoryStore) Accepting() bool {
	return h.active != 0 && (h.state == PaneLoading || h.state == PaneReady)
}

func (h *HistoryStore) Active() int64 { return h.active }
func (h *HistoryStore) State() PaneState { return h.state }
func (h *HistoryStore) Err() error { return h.err }

// Messages returns a copy of the displayed log.
func (h *HistoryStore) Messages() []models.Message {
	return append([]models.Message{}, h.log...)
}

func (h *HistoryStore) push(msg models.Message) bool {
	if _, dup := h.ids[msg.ID]; dup {
		return false
	}
	h.ids[msg.ID] = struct{}{}
	h.log = append(h.log, msg)
	return true
}

func (h *HistoryStore) clear() {
	h.log = nil
	h.pending = nil
	h.ids = make(map[int64]struct{})
}
