package models

import "time"

// Conversation is the summary of one student-tutor dialog as seen by the current user.
// LastMessage and LastMessageAt are a denormalized preview refreshed on every new message.
type Conversation struct {
	// OwnerID is the local user the summary belongs to. Only used by the archive.
	OwnerID int64 `gorm:"primaryKey;autoIncrement:false" json:"-"`
	// ID is stable for the dialog's lifetime.
	ID int64 `gorm:"primaryKey;autoIncrement:false;column:conversation_id" json:"conversation_id"`

	PartnerID   int64  `gorm:"not null" json:"partner_id"`
	PartnerName string `gorm:"type:text" json:"partner_name"`

	LastMessage   string    `gorm:"type:text" json:"last_message"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_date"`
}

// Newer reports whether c sorts before other in the directory: most recent
// preview first, ties broken by the higher conversation id.
func (c Conversation) Newer(other Conversation) bool {
	if !c.LastMessageAt.Equal(other.LastMessageAt) {
		return c.LastMessageAt.After(other.LastMessageAt)
	}
	return c.ID > other.ID
}
