package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
	"tutorlink/chat/pkg/metrics"
)

// Options tune the connection manager.
type Options struct {
	URL string

	// ReconnectAttempts caps reconnection after a drop. Zero disables it.
	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
}

// Manager keeps at most one live connection, bound to the current identity.
type Manager struct {
	opts  Options
	token TokenSource
	log   *logger.Logger

	mu           sync.Mutex
	conn         *Conn
	user         int64
	handler      Handler
	gen          uint64
	reconnecting bool
	cancel       context.CancelFunc
	loop         uint64
}

func NewManager(opts Options, token TokenSource, log *logger.Logger) *Manager {
	if token == nil {
		token = func() string { return "" }
	}
	return &Manager{
		opts:    opts,
		token:   token,
		log:     log.Named("realtime"),
		handler: nopHandler{},
	}
}

// SetHandler installs the single receiver of pushed messages and state changes.
func (m *Manager) SetHandler(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connected reports whether a connection is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Bind makes the live channel follow userID. Zero tears it down. Binding the
// user already bound is a no-op; a different user replaces the connection.
func (m *Manager) Bind(ctx context.Context, userID int64) error {
	if userID == 0 {
		m.Unbind()
		return nil
	}

	m.mu.Lock()
	if m.user == userID && (m.conn != nil || m.reconnecting) {
		m.mu.Unlock()
		return nil
	}
	old := m.detachLocked()
	m.user = userID
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	return m.connect(ctx, gen, userID)
}

// Unbind closes the connection and stops any pending reconnect.
func (m *Manager) Unbind() {
	m.mu.Lock()
	wasBound := m.user != 0
	old := m.detachLocked()
	m.user = 0
	m.gen++
	h := m.handler
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if wasBound {
		metrics.SetConnected(false)
		h.HandleConnState(false, nil)
	}
}

// detachLocked clears the current connection and reconnect loop. m.mu must be held.
func (m *Manager) detachLocked() *Conn {
	m.stopLoopLocked()
	old := m.conn
	m.conn = nil
	return old
}

func (m *Manager) connect(ctx context.Context, gen uint64, userID int64) error {
	log := m.log.WithUser(userID)

	conn, err := Dial(ctx, m.opts.URL, m.token(), log)
	if err != nil {
		log.Warn("live channel dial failed", zap.Error(err))
		m.notifyIfCurrent(gen, false, err)
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	h := m.handler
	m.mu.Unlock()

	conn.Start(m.dispatch, func(err error) { m.dropped(conn, err) })

	if err := conn.Emit(ctx, config.EventJoin, models.JoinRequest{UserID: userID}); err != nil {
		log.Warn("join not sent", zap.Error(err))
		conn.Close()
		return &errs.ConnectionError{Err: err}
	}

	log.Info("live channel connected")
	metrics.SetConnected(true)
	h.HandleConnState(true, nil)
	return nil
}

func (m *Manager) dispatch(frame models.Frame) {
	if frame.Event != config.EventReceiveMessage {
		m.log.Debug("ignoring event", zap.String("event", frame.Event))
		return
	}

	var msg models.Message
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		m.log.Warn("malformed receiveMessage payload", zap.Error(err))
		return
	}

	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h.HandleMessage(msg)
}

func (m *Manager) notifyIfCurrent(gen uint64, connected bool, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	h := m.handler
	m.mu.Unlock()

	metrics.SetConnected(connected)
	h.HandleConnState(connected, err)
}

// dropped runs when a connection's read side stops. Only the current
// connection triggers a reconnect.
func (m *Manager) dropped(conn *Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	gen := m.gen
	user := m.user
	h := m.handler

	attempts := m.opts.ReconnectAttempts
	var (
		ctx  context.Context
		loop uint64
	)
	if attempts > 0 {
		ctx, loop = m.startLoopLocked()
	}
	m.mu.Unlock()

	m.log.WithUser(user).Warn("live channel dropped", zap.Error(err))
	metrics.SetConnected(false)
	h.HandleConnState(false, &errs.ConnectionError{Err: dropCause(err)})

	if attempts > 0 {
		go m.reconnect(ctx, gen, loop, user)
	}
}

// startLoopLocked stops any running reconnect loop and registers a new one.
// m.mu must be held.
func (m *Manager) startLoopLocked() (context.Context, uint64) {
	m.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loop++
	m.reconnecting = true
	return ctx, m.loop
}

func (m *Manager) stopLoopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.reconnecting = false
}

// endLoop releases loop if it is still the registered one.
func (m *Manager) endLoop(loop uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == loop {
		m.stopLoopLocked()
	}
}

func dropCause(err error) error {
	if err == nil {
		return errs.ErrNotConnected
	}
	return err
}

func (m *Manager) reconnect(ctx context.Context, gen, loop uint64, userID int64) {
	// 1. Exponential policy capped by attempt count
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ReconnectInitial
	b.MaxInterval = m.opts.ReconnectMax
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.opts.ReconnectAttempts-1)), ctx)

	// 2. Every attempt first checks the user is still bound
	operation := func() error {
		m.mu.Lock()
		current := m.gen == gen
		m.mu.Unlock()
		if !current {
			return backoff.Permanent(context.Canceled)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, config.WriteWait)
		defer cancel()

		err := m.redial(attemptCtx, gen, loop, userID)
		if err != nil {
			metrics.Reconnects.WithLabelValues("error").Inc()
			return err
		}
		metrics.Reconnects.WithLabelValues("ok").Inc()
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err == nil {
		return
	}

	// 3. Release only this loop; a newer one may already run
	m.endLoop(loop)

	if !errors.Is(err, context.Canceled) {
		m.log.WithUser(userID).Error("live channel reconnect gave up", zap.Error(err))
		m.notifyIfCurrent(gen, false, &errs.ConnectionError{Err: err})
	}
}

// redial is connect without the failure notification; the retry loop reports
// only the final outcome.
func (m *Manager) redial(ctx context.Context, gen, loop uint64, userID int64) error {
	log := m.log.WithUser(userID)

	conn, err := Dial(ctx, m.opts.URL, m.token(), log)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		conn.Close()
		return backoff.Permanent(context.Canceled)
	}
	m.conn = conn
	h := m.handler
	m.mu.Unlock()

	conn.Start(m.dispatch, func(err error) { m.dropped(conn, err) })

	if err := conn.Emit(ctx, config.EventJoin, models.JoinRequest{UserID: userID}); err != nil {
		// the drop callback starts a fresh loop
		conn.Close()
		return backoff.Permanent(context.Canceled)
	}

	m.mu.Lock()
	current := m.conn == conn
	m.mu.Unlock()
	if !current {
		return nil
	}
	m.endLoop(loop)

	log.Info("live channel re-established")
	metrics.SetConnected(true)
	h.HandleConnState(true, nil)
	return nil
}

// Send transmits req and waits for the server acknowledgment, bounded by ctx.
func (m *Manager) Send(ctx context.Context, req models.SendRequest) (models.Message, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return models.Message{}, &errs.ConnectionError{Err: errs.ErrNotConnected}
	}

	start := time.Now()
	raw, err := conn.Request(ctx, config.EventSendMessage, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Message{}, errs.ErrAckTimeout
		}
		return models.Message{}, err
	}
	metrics.AckLatency.Observe(time.Since(start).Seconds())

	var ack models.SendAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return models.Message{}, err
	}
	if ack.Status != config.AckStatusOK || ack.Message == nil {
		if ack.Error != "" {
			return models.Message{}, errors.Join(errs.ErrAckRejected, errors.New(ack.Error))
		}
		return models.Message{}, errs.ErrAckRejected
	}
	return *ack.Message, nil
}
