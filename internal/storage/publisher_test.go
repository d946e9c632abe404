package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/pkg/logger"
)

type published struct {
	channel string
	view    chat.View
}

type fakeBroker struct {
	mu      sync.Mutex
	got     []published
	gate    chan struct{}
	entered chan struct{}
	fail    bool
}

func (b *fakeBroker) publish(_ context.Context, channel string, payload []byte) error {
	if b.gate != nil {
		b.entered <- struct{}{}
		<-b.gate
	}
	var v chat.View
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, published{channel: channel, view: v})
	if b.fail {
		return errors.New("redis down")
	}
	return nil
}

func (b *fakeBroker) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.got...)
}

func runPublisher(t *testing.T, b *fakeBroker) *ViewPublisher {
	t.Helper()
	p := newViewPublisher(b.publish, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestViewChannel(t *testing.T) {
	assert.Equal(t, "chat:view:42", ViewChannel(42))
}

func TestViewPublisher_PublishesToUserChannel(t *testing.T) {
	b := &fakeBroker{}
	p := runPublisher(t, b)

	p.Publish(chat.View{UserID: 10, Pane: chat.PaneReady, Connected: true})

	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := b.snapshot()[0]
	assert.Equal(t, "chat:view:10", got.channel)
	assert.Equal(t, chat.PaneReady, got.view.Pane)
	assert.True(t, got.view.Connected)
}

func TestViewPublisher_KeepsOnlyLatest(t *testing.T) {
	b := &fakeBroker{gate: make(chan struct{}), entered: make(chan struct{}, 4)}
	p := runPublisher(t, b)

	p.Publish(chat.View{UserID: 10, ActiveID: 1})
	<-b.entered
	p.Publish(chat.View{UserID: 10, ActiveID: 2})
	p.Publish(chat.View{UserID: 10, ActiveID: 3})
	close(b.gate)

	require.Eventually(t, func() bool {
		got := b.snapshot()
		return len(got) > 0 && got[len(got)-1].view.ActiveID == 3
	}, time.Second, 5*time.Millisecond)

	for _, g := range b.snapshot() {
		assert.NotEqual(t, int64(2), g.view.ActiveID)
	}
}

func TestViewPublisher_SkipsAnonymousViews(t *testing.T) {
	b := &fakeBroker{}
	p := runPublisher(t, b)

	p.Publish(chat.View{})
	p.Publish(chat.View{UserID: 5})

	require.Eventually(t, func() bool { return len(b.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
	for _, g := range b.snapshot() {
		assert.Equal(t, int64(5), g.view.UserID)
	}
}

func TestViewPublisher_SurvivesBrokerErrors(t *testing.T) {
	b := &fakeBroker{fail: true}
	p := runPublisher(t, b)

	p.Publish(chat.View{UserID: 1})
	require.Eventually(t, func() bool { return len(b.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	p.Publish(chat.View{UserID: 1, ActiveID: 9})
	require.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}
