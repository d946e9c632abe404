package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the display layer may be served from any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster fans chat views out to stream subscribers. A slow subscriber
// only ever misses intermediate views, never the latest one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan chat.View]struct{}
	last *chat.View
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan chat.View]struct{})}
}

// Publish implements chat.Notifier.
func (b *Broadcaster) Publish(v chat.View) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &v
	for ch := range b.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel receiving the latest view first, and a func to
// stop receiving.
func (b *Broadcaster) Subscribe() (<-chan chat.View, func()) {
	ch := make(chan chat.View, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.last != nil {
		offer(ch, *b.last)
	}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// offer replaces whatever is pending in ch with v. Callers hold b.mu.
func offer(ch chan chat.View, v chat.View) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// ServeStream upgrades to a websocket and pushes every chat view as JSON.
func (h *Handler) ServeStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	// 1. Subscribe before the first write so the current view is replayed
	views, unsubscribe := h.Stream.Subscribe()
	defer unsubscribe()

	// 2. Reader only tracks pongs and notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(config.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(config.PongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 3. Writer: views and keepalive pings
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case v := <-views:
			payload, err := json.Marshal(v)
			if err != nil {
				h.log.Error("encode view", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}
