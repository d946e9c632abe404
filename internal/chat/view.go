package chat

import (
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
)

// ViewMessage is a log entry as the display layer renders it.
type ViewMessage struct {
	models.Message
	Mine bool `json:"mine"`
}

// View is a consistent copy of everything the display layer shows. Error
// fields hold the error class (fetch, send, connection); the values are
// kept alongside for logging and localization.
type View struct {
	UserID int64 `json:"user_id"`

	Conversations        []models.Conversation `json:"conversations"`
	LoadingConversations bool                  `json:"loading_conversations"`
	DirectoryError       string                `json:"directory_error,omitempty"`

	ActiveID  int64         `json:"active_conversation_id,omitempty"`
	Pane      PaneState     `json:"pane"`
	Messages  []ViewMessage `json:"messages"`
	PaneError string        `json:"pane_error,omitempty"`

	Connected       bool   `json:"connected"`
	ConnectionError string `json:"connection_error,omitempty"`

	DirectoryErr  error `json:"-"`
	PaneErr       error `json:"-"`
	ConnectionErr error `json:"-"`
}

// CanSend reports whether the send box should be enabled.
func (v View) CanSend() bool {
	return v.Connected && v.Pane == PaneReady
}

func (o *Orchestrator) view() View {
	v := View{
		Conversations:        o.dir.List(),
		LoadingConversations: o.loading,
		DirectoryError:       errs.Kind(o.dirErr),
		DirectoryErr:         o.dirErr,
		ActiveID:             o.history.Active(),
		Pane:                 o.history.State(),
		PaneError:            errs.Kind(o.history.Err()),
		PaneErr:              o.history.Err(),
		Connected:            o.connected,
		ConnectionError:      errs.Kind(o.connErr),
		ConnectionErr:        o.connErr,
	}
	if o.identity != nil {
		v.UserID = o.identity.ID
	}

	msgs := o.history.Messages()
	v.Messages = make([]ViewMessage, 0, len(msgs))
	for _, m := range msgs {
		v.Messages = append(v.Messages, ViewMessage{Message: m, Mine: m.SenderID == v.UserID})
	}
	return v
}

// Notifiers fans a view out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Publish(v View) {
	for _, n := range ns {
		n.Publish(v)
	}
}
