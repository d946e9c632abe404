// Package realtime owns the live channel: one websocket per authenticated
// user, announced with a join event, re-established after drops.
package realtime

import "tutorlink/chat/internal/models"

// Handler receives everything the live channel produces. Calls may arrive
// from the read pump or the reconnect goroutine and must not block for long.
type Handler interface {
	// HandleMessage is called once per pushed receiveMessage event.
	HandleMessage(models.Message)
	// HandleConnState reports the channel going up or down. err is nil on a
	// clean unbind.
	HandleConnState(connected bool, err error)
}

// TokenSource returns the credential attached to the websocket handshake.
type TokenSource func() string

type nopHandler struct{}

func (nopHandler) HandleMessage(models.Message)  {}
func (nopHandler) HandleConnState(bool, error) {}
