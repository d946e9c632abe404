package errs_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tutorlink/chat/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "", errs.Kind(nil))
	assert.Equal(t, "fetch", errs.Kind(&errs.FetchError{Op: "conversations", Err: context.DeadlineExceeded}))
	assert.Equal(t, "connection", errs.Kind(&errs.ConnectionError{Err: errors.New("refused")}))
	assert.Equal(t, "internal", errs.Kind(errors.New("boom")))

	// A send that failed because the channel is down is still a send failure.
	sendErr := &errs.SendError{Err: &errs.ConnectionError{Err: errs.ErrNotConnected}}
	assert.Equal(t, "send", errs.Kind(fmt.Errorf("wrapped: %w", sendErr)))
}

func TestUnwrapChain(t *testing.T) {
	err := fmt.Errorf("handler: %w", &errs.SendError{Err: errs.ErrAckTimeout})

	assert.ErrorIs(t, err, errs.ErrAckTimeout)

	var se *errs.SendError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "send: acknowledgment timed out", se.Error())
}
