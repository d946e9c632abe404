package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Frame is the envelope for every live channel payload in both directions.
// Ack correlates a request with its acknowledgment.
type Frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest announces the user so the server can route private events.
type JoinRequest struct {
	UserID int64 `json:"userId"`
}

// SendRequest is the client->server send payload.
type SendRequest struct {
	SenderID   int64  `json:"senderId" validate:"required,gt=0"`
	ReceiverID int64  `json:"receiverId" validate:"required,gt=0,nefield=SenderID"`
	Text       string `json:"text" validate:"required"`

	// ConversationID is local bookkeeping and is not transmitted.
	ConversationID int64 `json:"-"`
}

// SendAck is the server reply to a SendRequest.
type SendAck struct {
	Status  string   `json:"status"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

var validate = validator.New()

// Validate checks the request before it is transmitted.
func (r SendRequest) Validate() error {
	r.Text = strings.TrimSpace(r.Text)
	return validate.Struct(r)
}
