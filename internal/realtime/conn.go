package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
)

// Conn is one live websocket channel. A single frame callback is attached by
// Start and stays for the connection's lifetime.
type Conn struct {
	ws  *websocket.Conn
	log *logger.Logger

	send chan []byte
	done chan struct{}

	mu      sync.Mutex
	pending map[string]chan json.RawMessage

	started   atomic.Bool
	closeOnce sync.Once
}

// Dial opens the websocket. The pumps do not run until Start.
func Dial(ctx context.Context, url, token string, log *logger.Logger) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, &errs.ConnectionError{Err: err}
	}

	return &Conn{
		ws:      ws,
		log:     log,
		send:    make(chan []byte, config.SendBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan json.RawMessage),
	}, nil
}

// Start runs the read and write pumps. onFrame receives every non-ack frame;
// onClose runs once when the read side stops, with the read error.
func (c *Conn) Start(onFrame func(models.Frame), onClose func(error)) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.writePump()
	go c.readPump(onFrame, onClose)
}

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if !c.started.Load() {
			_ = c.ws.Close()
		}
	})
}

// Emit queues a fire-and-forget frame.
func (c *Conn) Emit(ctx context.Context, event string, data any) error {
	return c.write(ctx, event, "", data)
}

// Request sends a frame and waits for the matching acknowledgment.
func (c *Conn) Request(ctx context.Context, event string, data any) (json.RawMessage, error) {
	ackID := uuid.NewString()
	reply := make(chan json.RawMessage, 1)

	c.mu.Lock()
	c.pending[ackID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, event, ackID, data); err != nil {
		return nil, err
	}

	select {
	case raw := <-reply:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, &errs.ConnectionError{Err: errs.ErrNotConnected}
	}
}

func (c *Conn) write(ctx context.Context, event, ackID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(models.Frame{Event: event, Ack: ackID, Data: payload})
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return &errs.ConnectionError{Err: errs.ErrNotConnected}
	}
}

func (c *Conn) resolve(ackID string, data json.RawMessage) {
	c.mu.Lock()
	reply, ok := c.pending[ackID]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("ack without pending request", zap.String("ack", ackID))
		return
	}
	select {
	case reply <- data:
	default:
	}
}

func (c *Conn) readPump(onFrame func(models.Frame), onClose func(error)) {
	var readErr error
	defer func() {
		c.Close()
		onClose(readErr)
	}()

	c.ws.SetReadLimit(config.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(config.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("live channel read failed", zap.Error(err))
			}
			readErr = err
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}

		if frame.Event == config.EventAck && frame.Ack != "" {
			c.resolve(frame.Ack, frame.Data)
			continue
		}
		onFrame(frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("live channel write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(config.WriteWait))
			err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug("close frame not sent", zap.Error(err))
			}
			return
		}
	}
}
