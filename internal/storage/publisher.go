package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/pkg/logger"
)

const publishTimeout = 2 * time.Second

// ViewChannel is the pub/sub channel carrying a user's chat views.
func ViewChannel(userID int64) string {
	return fmt.Sprintf("chat:view:%d", userID)
}

type publishFunc func(ctx context.Context, channel string, payload []byte) error

// ViewPublisher forwards chat views to Redis. Only the latest view is kept;
// intermediate ones are skipped when Redis is slower than the chat loop.
type ViewPublisher struct {
	publish publishFunc
	log     *logger.Logger

	mu     sync.Mutex
	latest *chat.View
	wake   chan struct{}
}

func NewViewPublisher(rdb *redis.Client, log *logger.Logger) *ViewPublisher {
	return newViewPublisher(func(ctx context.Context, channel string, payload []byte) error {
		return rdb.Publish(ctx, channel, payload).Err()
	}, log)
}

func newViewPublisher(fn publishFunc, log *logger.Logger) *ViewPublisher {
	return &ViewPublisher{
		publish: fn,
		log:     log.Named("publisher"),
		wake:    make(chan struct{}, 1),
	}
}

// Publish records v for delivery. It never blocks.
func (p *ViewPublisher) Publish(v chat.View) {
	p.mu.Lock()
	p.latest = &v
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run delivers views until ctx is done.
func (p *ViewPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.flush(ctx)
		}
	}
}

func (p *ViewPublisher) flush(ctx context.Context) {
	p.mu.Lock()
	v := p.latest
	p.latest = nil
	p.mu.Unlock()

	if v == nil || v.UserID == 0 {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("encode view", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.publish(ctx, ViewChannel(v.UserID), payload); err != nil {
		p.log.Warn("publish view", zap.Int64("user_id", v.UserID), zap.Error(err))
	}
}

// SubscribeViews follows a user's views.
func (s *Service) SubscribeViews(ctx context.Context, userID int64) *redis.PubSub {
	return s.Redis.Subscribe(ctx, ViewChannel(userID))
}
