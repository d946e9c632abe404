// Package errs defines the error taxonomy of the chat core. Every error is
// terminal to the attempted operation only; the display layer decides how to
// present it.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage         = errors.New("message text is empty")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrAckTimeout           = errors.New("acknowledgment timed out")
	ErrAckRejected          = errors.New("server rejected the message")
	ErrNotConnected         = errors.New("live channel is not connected")
	ErrNoIdentity           = errors.New("no authenticated user")
)

// FetchError is a failed history API call. The previous local state is kept.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError is a send that was not confirmed. Nothing was appended.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ConnectionError means the live channel failed to establish or dropped.
// Chat degrades to read-only.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live channel: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Kind names the taxonomy class of err for display and metrics labels.
func Kind(err error) string {
	var fe *FetchError
	var se *SendError
	var ce *ConnectionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return "send"
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &ce):
		return "connection"
	default:
		return "internal"
	}
}
