package chat

import (
	"sort"

	"tutorlink/chat/internal/models"
)

// Directory is the cached, recency-ordered list of the user's conversations.
// It is owned by the orchestrator loop and is not safe for concurrent use.
type Directory struct {
	list []models.Conversation
}

func NewDirectory() *Directory {
	return &Directory{}
}

// Replace installs a freshly fetched list, sorted most recent first.
func (d *Directory) Replace(list []models.Conversation) {
	d.list = append(d.list[:0:0], list...)
	d.sort()
}

// ApplyIncoming refreshes the preview of the message's conversation and
// restores the ordering. It reports false when the conversation is not
// known locally; membership never changes here.
func (d *Directory) ApplyIncoming(msg models.Message) bool {
	for i := range d.list {
		if d.list[i].ID != msg.ConversationID {
			continue
		}
		d.list[i].LastMessage = msg.Text
		d.list[i].LastMessageAt = msg.CreatedAt
		d.sort()
		return true
	}
	return false
}

func (d *Directory) Find(id int64) (models.Conversation, bool) {
	for _, c := range d.list {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// List returns a copy in display order.
func (d *Directory) List() []models.Conversation {
	return append([]models.Conversation{}, d.list...)
}

func (d *Directory) Len() int {
	return len(d.list)
}

func (d *Directory) sort() {
	sort.SliceStable(d.list, func(i, j int) bool {
		return d.list[i].Newer(d.list[j])
	})
}
