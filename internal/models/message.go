package models

import "time"

// Message is one immutable chat line. IDs and timestamps are assigned by the server.
type Message struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ConversationID int64     `gorm:"not null;index:idx_conv_created" json:"conversation_id"`
	SenderID       int64     `gorm:"not null" json:"sender_id"`
	ReceiverID     int64     `gorm:"not null" json:"receiver_id"`
	Text           string    `gorm:"type:text;not null" json:"message_text"`
	CreatedAt      time.Time `gorm:"index:idx_conv_created" json:"created_at"`
}
