// Package chat keeps the conversation directory and the open message log in
// step with the history API and the live channel.
//
// All state is owned by a single loop (Orchestrator.Run). User actions,
// inbound messages and connection changes are queued to it as discrete units
// of work; fetches and acknowledgment waits happen off the loop, and their
// results are queued back.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"tutorlink/chat/internal/config"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
	"tutorlink/chat/pkg/metrics"
)

var (
	ErrStopped             = errors.New("chat: orchestrator is not running")
	ErrInvalidConversation = errors.New("chat: invalid conversation id")
)

const (
	outcomeAppended    = "appended"
	outcomePreviewOnly = "preview_only"
	outcomeDropped     = "dropped"
	outcomeDuplicate   = "duplicate"

	defaultAckTimeout = 10 * time.Second
	archiveTimeout    = 5 * time.Second
)

// HistoryAPI is the persisted side of the chat.
type HistoryAPI interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]models.Message, error)
}

// Transport is the live channel.
type Transport interface {
	Bind(ctx context.Context, userID int64) error
	Unbind()
	Send(ctx context.Context, req models.SendRequest) (models.Message, error)
}

// Archive keeps a local copy of what the user has seen.
type Archive interface {
	SaveConversations(ctx context.Context, ownerID int64, list []models.Conversation) error
	SaveMessages(ctx context.Context, msgs []models.Message) error
}

// Notifier receives a fresh View after every change. Publish must not block.
type Notifier interface {
	Publish(View)
}

type Options struct {
	AckTimeout time.Duration
	Archive    Archive
	Notifier   Notifier
}

type connEvent struct {
	connected bool
	err       error
}

// Orchestrator wires user actions and live events to the directory and the
// message log. It implements realtime.Handler.
type Orchestrator struct {
	api        HistoryAPI
	transport  Transport
	archive    Archive
	notifier   Notifier
	ackTimeout time.Duration
	log        *logger.Logger

	incomingCh chan models.Message
	stateCh    chan connEvent
	actionCh   chan func()
	stopped    chan struct{}

	// owned by Run
	identity  *models.Identity
	epoch     uint64
	dir       *Directory
	history   *HistoryStore
	seen      *recentIDs
	loading   bool
	loadSeq   uint64
	dirErr    error
	connected bool
	connErr   error
}

func New(api HistoryAPI, transport Transport, opts Options, log *logger.Logger) *Orchestrator {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	return &Orchestrator{
		api:        api,
		transport:  transport,
		archive:    opts.Archive,
		notifier:   opts.Notifier,
		ackTimeout: opts.AckTimeout,
		log:        log.Named("chat"),
		incomingCh: make(chan models.Message, config.SendBuffer),
		stateCh:    make(chan connEvent, 16),
		actionCh:   make(chan func()),
		stopped:    make(chan struct{}),
		dir:        NewDirectory(),
		history:    NewHistoryStore(),
		seen:       newRecentIDs(config.DedupeWindow),
	}
}

// Run processes queued work until ctx is done. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)
	o.log.Info("chat loop started")

	for {
		select {
		case <-ctx.Done():
			o.log.Info("chat loop stopped")
			return ctx.Err()

		case msg := <-o.incomingCh:
			o.handleIncoming(msg)

		case ev := <-o.stateCh:
			o.connected = ev.connected
			o.connErr = ev.err
			metrics.SetConnected(ev.connected)
			o.publish()

		case fn := <-o.actionCh:
			fn()
		}
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		fn()
		close(done)
	}

	select {
	case o.actionCh <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

// HandleMessage queues a message pushed by the live channel.
func (o *Orchestrator) HandleMessage(msg models.Message) {
	select {
	case o.incomingCh <- msg:
	case <-o.stopped:
	}
}

// HandleConnState queues a live channel state change.
func (o *Orchestrator) HandleConnState(connected bool, err error) {
	select {
	case o.stateCh <- connEvent{connected: connected, err: err}:
	case <-o.stopped:
	}
}

// SetIdentity follows the session: a new user resets chat state, rebinds the
// live channel and loads the directory; nil tears everything down.
func (o *Orchestrator) SetIdentity(ctx context.Context, id *models.Identity) error {
	var changed bool
	err := o.do(ctx, func() {
		if o.identity.Same(id) {
			return
		}
		changed = true
		o.epoch++
		o.identity = nil
		if id != nil {
			cp := *id
			o.identity = &cp
		}
		o.reset()
		o.publish()
	})
	if err != nil || !changed {
		return err
	}

	if id == nil {
		o.log.Info("identity cleared, chat reset")
		o.transport.Unbind()
		return nil
	}

	log := o.log.WithUser(id.ID)
	log.Info("identity changed, rebinding chat")
	if err := o.transport.Bind(ctx, id.ID); err != nil {
		log.Warn("live channel unavailable, chat is read-only", zap.Error(err))
	}
	return o.Load(ctx)
}

// Load fetches the conversation list and replaces the directory. On failure
// the previous directory is kept and the error is exposed in the view.
func (o *Orchestrator) Load(ctx context.Context) error {
	var (
		seq, epoch uint64
		owner      int64
	)
	err := o.do(ctx, func() {
		if o.identity == nil {
			return
		}
		o.loadSeq++
		seq, epoch, owner = o.loadSeq, o.epoch, o.identity.ID
		o.loading = true
		o.publish()
	})
	if err != nil {
		return err
	}
	if owner == 0 {
		return errs.ErrNoIdentity
	}

	list, fetchErr := o.api.Conversations(ctx)
	fetchErr = asFetchError("conversations", fetchErr)

	var applied bool
	err = o.do(context.WithoutCancel(ctx), func() {
		if epoch != o.epoch || seq != o.loadSeq {
			return
		}
		applied = true
		o.loading = false
		o.dirErr = fetchErr
		if fetchErr == nil {
			o.dir.Replace(list)
		}
		o.publish()
	})
	if err != nil {
		return err
	}

	log := o.log.WithUser(owner)
	switch {
	case !applied:
		metrics.StaleFetches.Inc()
		log.Debug("discarded superseded conversation list")
	case fetchErr != nil:
		log.Warn("conversation list unavailable", zap.Error(fetchErr))
	default:
		log.Debug("conversation list loaded", zap.Int("count", len(list)))
		o.archiveConversations(owner, list)
	}
	return fetchErr
}

// LoadAndSelect loads the directory and then opens conversationID if it is
// part of it. Unknown ids are ignored.
func (o *Orchestrator) LoadAndSelect(ctx context.Context, conversationID int64) error {
	if err := o.Load(ctx); err != nil {
		return err
	}
	if conversationID == 0 {
		return nil
	}

	var known bool
	if err := o.do(ctx, func() { _, known = o.dir.Find(conversationID) }); err != nil {
		return err
	}
	if !known {
		o.log.Debug("requested conversation not in directory", zap.Int64("conversation_id", conversationID))
		return nil
	}
	return o.SelectConversation(ctx, conversationID)
}

// SelectConversation makes conversationID active and fetches its history.
// A later selection supersedes this one; its result is then discarded.
func (o *Orchestrator) SelectConversation(ctx context.Context, conversationID int64) error {
	if conversationID <= 0 {
		return ErrInvalidConversation
	}

	// 1. Open the pane on the loop; this invalidates earlier tickets
	var (
		ticket Ticket
		hasID  bool
	)
	err := o.do(ctx, func() {
		if o.identity == nil {
			return
		}
		hasID = true
		ticket = o.history.Open(conversationID)
		o.publish()
	})
	if err != nil {
		return err
	}
	if !hasID {
		return errs.ErrNoIdentity
	}

	// 2. Fetch off the loop
	msgs, fetchErr := o.api.Messages(ctx, conversationID)
	fetchErr = asFetchError("messages", fetchErr)

	// 3. Complete only if this ticket is still current
	var applied bool
	err = o.do(context.WithoutCancel(ctx), func() {
		applied = o.history.Complete(ticket, msgs, fetchErr)
		if applied {
			o.publish()
		}
	})
	if err != nil {
		return err
	}

	log := o.log.With(zap.Int64("conversation_id", conversationID))
	switch {
	case !applied:
		metrics.StaleFetches.Inc()
		log.Debug("discarded superseded history")
	case fetchErr != nil:
		log.Warn("history unavailable", zap.Error(fetchErr))
	default:
		o.archiveMessages(msgs...)
	}
	return fetchErr
}

// Send transmits text to the partner of the active conversation and appends
// the acknowledged message. Nothing is shown before the server confirms it.
func (o *Orchestrator) Send(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.MessagesSent.WithLabelValues("empty").Inc()
		return models.Message{}, &errs.SendError{Err: errs.ErrEmptyMessage}
	}

	// 1. Resolve the partner of the active conversation
	var (
		req     models.SendRequest
		epoch   uint64
		prepErr error
	)
	err := o.do(ctx, func() {
		if o.identity == nil {
			prepErr = errs.ErrNoIdentity
			return
		}
		conv, ok := o.dir.Find(o.history.Active())
		if !ok || !o.history.Accepting() {
			prepErr = errs.ErrNoActiveConversation
			return
		}
		epoch = o.epoch
		req = models.SendRequest{
			SenderID:       o.identity.ID,
			ReceiverID:     conv.PartnerID,
			Text:           text,
			ConversationID: conv.ID,
		}
	})
	if err != nil {
		return models.Message{}, err
	}
	if prepErr == nil {
		prepErr = req.Validate()
	}
	if prepErr != nil {
		metrics.MessagesSent.WithLabelValues("invalid").Inc()
		return models.Message{}, &errs.SendError{Err: prepErr}
	}

	// 2. Transmit and wait for the acknowledgement
	ackCtx, cancel := context.WithTimeout(ctx, o.ackTimeout)
	defer cancel()

	msg, err := o.transport.Send(ackCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errs.ErrAckTimeout
		}
		metrics.MessagesSent.WithLabelValues(sendResult(err)).Inc()
		o.log.Warn("message not confirmed",
			zap.Int64("conversation_id", req.ConversationID),
			zap.Error(err),
		)
		return models.Message{}, &errs.SendError{Err: err}
	}
	metrics.MessagesSent.WithLabelValues("ok").Inc()

	if msg.ConversationID == 0 {
		msg.ConversationID = req.ConversationID
	}

	// 3. Apply the confirmed message unless the identity changed meanwhile
	err = o.do(context.WithoutCancel(ctx), func() {
		if epoch != o.epoch {
			return
		}
		o.apply(msg)
		o.publish()
	})
	if err != nil {
		return msg, err
	}

	o.archiveMessages(msg)
	return msg, nil
}

// Snapshot returns a consistent copy of the chat state.
func (o *Orchestrator) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := o.do(ctx, func() { v = o.view() })
	return v, err
}

func (o *Orchestrator) handleIncoming(msg models.Message) {
	outcome := o.apply(msg)
	metrics.MessagesReceived.WithLabelValues(outcome).Inc()

	log := o.log.With(zap.Int64("message_id", msg.ID), zap.Int64("conversation_id", msg.ConversationID))
	switch outcome {
	case outcomeDuplicate:
		log.Debug("ignoring repeated message")
		return
	case outcomeDropped:
		log.Debug("message for unknown conversation, preview not updated")
	}

	if o.identity != nil {
		o.archiveMessages(msg)
	}
	o.publish()
}

// apply routes one confirmed message: preview first, then the open log.
func (o *Orchestrator) apply(msg models.Message) string {
	if o.identity == nil {
		return outcomeDropped
	}
	if msg.ID != 0 && (o.history.Has(msg.ID) || !o.seen.Mark(msg.ID)) {
		return outcomeDuplicate
	}

	previewed := o.dir.ApplyIncoming(msg)
	appended := o.history.Append(msg)

	switch {
	case appended:
		return outcomeAppended
	case previewed:
		return outcomePreviewOnly
	default:
		return outcomeDropped
	}
}

func (o *Orchestrator) reset() {
	o.dir.Replace(nil)
	o.history.Reset()
	o.seen.Reset()
	o.loading = false
	o.dirErr = nil
}

func (o *Orchestrator) publish() {
	if o.notifier != nil {
		o.notifier.Publish(o.view())
	}
}

func (o *Orchestrator) archiveConversations(owner int64, list []models.Conversation) {
	if o.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := o.archive.SaveConversations(ctx, owner, list); err != nil {
			o.log.Warn("archive conversations failed", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) archiveMessages(msgs ...models.Message) {
	if o.archive == nil || len(msgs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := o.archive.SaveMessages(ctx, msgs); err != nil {
			o.log.Warn("archive messages failed", zap.Error(err))
		}
	}()
}

func asFetchError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *errs.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &errs.FetchError{Op: op, Err: err}
}

func sendResult(err error) string {
	var ce *errs.ConnectionError
	switch {
	case errors.Is(err, errs.ErrAckTimeout):
		return "timeout"
	case errors.Is(err, errs.ErrAckRejected):
		return "rejected"
	case errors.As(err, &ce):
		return "disconnected"
	default:
		return "error"
	}
}
