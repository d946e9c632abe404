package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tutorlink/chat/internal/chat"
	"tutorlink/chat/internal/errs"
	"tutorlink/chat/internal/models"
	"tutorlink/chat/pkg/logger"
)

const me = int64(10)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// --- Mocks ---

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) Conversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]models.Conversation)
	return list, args.Error(1)
}

func (m *mockAPI) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Bind(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockTransport) Unbind() {
	m.Called()
}

func (m *mockTransport) Send(ctx context.Context, req models.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Message), args.Error(1)
}

// --- Helpers ---

func directory() []models.Conversation {
	return []models.Conversation{
		{ID: 7, PartnerID: 20, PartnerName: "Olena", LastMessage: "hi", LastMessageAt: t0},
		{ID: 8, PartnerID: 30, PartnerName: "Taras", LastMessage: "bye", LastMessageAt: t0.Add(-time.Hour)},
	}
}

func start(t *testing.T, api *mockAPI, transport *mockTransport) *chat.Orchestrator {
	t.Helper()
	o := chat.New(api, transport, chat.Options{AckTimeout: 200 * time.Millisecond}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return o
}

// login binds the user and loads the standard directory.
func login(t *testing.T, o *chat.Orchestrator, api *mockAPI, transport *mockTransport) {
	t.Helper()
	transport.On("Bind", mock.Anything, me).Return(nil).Once()
	api.On("Conversations", mock.Anything).Return(directory(), nil).Once()

	require.NoError(t, o.SetIdentity(context.Background(), &models.Identity{ID: me, Role: models.RoleStudent}))
	o.HandleConnState(true, nil)
}

func snapshot(t *testing.T, o *chat.Orchestrator) chat.View {
	t.Helper()
	v, err := o.Snapshot(context.Background())
	require.NoError(t, err)
	return v
}

func eventually(t *testing.T, o *chat.Orchestrator, cond func(chat.View) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(snapshot(t, o)) }, 2*time.Second, 5*time.Millisecond, msg)
}

func logIDs(v chat.View) []int64 {
	out := make([]int64, 0, len(v.Messages))
	for _, m := range v.Messages {
		out = append(out, m.ID)
	}
	return out
}

func preview(v chat.View, id int64) string {
	for _, c := range v.Conversations {
		if c.ID == id {
			return c.LastMessage
		}
	}
	return ""
}

func selectReady(t *testing.T, o *chat.Orchestrator, api *mockAPI, id int64, msgs []models.Message) {
	t.Helper()
	api.On("Messages", mock.Anything, id).Return(msgs, nil).Once()
	require.NoError(t, o.SelectConversation(context.Background(), id))
}

// --- Tests ---

func TestOrchestrator_LoginLoadsDirectory(t *testing.T) {
	// Arrange
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)

	// Act
	login(t, o, api, transport)

	// Assert
	v := snapshot(t, o)
	assert.Equal(t, me, v.UserID)
	assert.Equal(t, []int64{7, 8}, []int64{v.Conversations[0].ID, v.Conversations[1].ID})
	assert.Equal(t, chat.PaneUnselected, v.Pane)
	assert.False(t, v.LoadingConversations)
	transport.AssertExpectations(t)
	api.AssertExpectations(t)
}

func TestOrchestrator_SelectAndReceive(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7, SenderID: 20, ReceiverID: me, Text: "hi", CreatedAt: t0}})
	o.HandleMessage(models.Message{ID: 2, ConversationID: 7, SenderID: 20, ReceiverID: me, Text: "yo", CreatedAt: t0.Add(time.Minute)})

	eventually(t, o, func(v chat.View) bool { return len(v.Messages) == 2 }, "inbound message not appended")
	v := snapshot(t, o)
	assert.Equal(t, []int64{1, 2}, logIDs(v))
	assert.Equal(t, "yo", preview(v, 7))
	assert.Equal(t, chat.PaneReady, v.Pane)
	assert.False(t, v.Messages[1].Mine)
}

func TestOrchestrator_IncomingForOtherConversationOnlyUpdatesPreview(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7, Text: "hi"}})

	o.HandleMessage(models.Message{ID: 5, ConversationID: 8, SenderID: 30, ReceiverID: me, Text: "elsewhere", CreatedAt: t0.Add(time.Hour)})

	eventually(t, o, func(v chat.View) bool { return preview(v, 8) == "elsewhere" }, "preview not updated")
	v := snapshot(t, o)
	assert.Equal(t, []int64{1}, logIDs(v))
	assert.Equal(t, int64(8), v.Conversations[0].ID, "conversation 8 moved to the top")
}

func TestOrchestrator_IncomingForUnknownConversationIsDropped(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, nil)

	o.HandleMessage(models.Message{ID: 5, ConversationID: 99, Text: "stranger", CreatedAt: t0.Add(time.Hour)})
	o.HandleMessage(models.Message{ID: 6, ConversationID: 7, Text: "marker", CreatedAt: t0.Add(time.Hour)})

	eventually(t, o, func(v chat.View) bool { return len(v.Messages) == 1 }, "marker not appended")
	v := snapshot(t, o)
	assert.Len(t, v.Conversations, 2)
	assert.Equal(t, []int64{6}, logIDs(v))
}

func TestOrchestrator_SelectionRace(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	gate := make(chan struct{})
	api.On("Messages", mock.Anything, int64(7)).
		Run(func(mock.Arguments) { <-gate }).
		Return([]models.Message{{ID: 1, ConversationID: 7, Text: "stale"}}, nil).Once()
	api.On("Messages", mock.Anything, int64(8)).
		Return([]models.Message{{ID: 2, ConversationID: 8, Text: "fresh"}}, nil).Once()

	first := make(chan error, 1)
	go func() { first <- o.SelectConversation(context.Background(), 7) }()
	eventually(t, o, func(v chat.View) bool { return v.ActiveID == 7 }, "first selection not opened")

	require.NoError(t, o.SelectConversation(context.Background(), 8))
	close(gate)
	require.NoError(t, <-first)

	v := snapshot(t, o)
	assert.Equal(t, int64(8), v.ActiveID)
	assert.Equal(t, chat.PaneReady, v.Pane)
	assert.Equal(t, []int64{2}, logIDs(v))
}

func TestOrchestrator_LiveMessagesDuringLoadAreKept(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	gate := make(chan struct{})
	api.On("Messages", mock.Anything, int64(7)).
		Run(func(mock.Arguments) { <-gate }).
		Return([]models.Message{{ID: 1, ConversationID: 7}, {ID: 2, ConversationID: 7}}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- o.SelectConversation(context.Background(), 7) }()
	eventually(t, o, func(v chat.View) bool { return v.Pane == chat.PaneLoading }, "not loading")

	o.HandleMessage(models.Message{ID: 2, ConversationID: 7, Text: "two", CreatedAt: t0.Add(time.Minute)})
	o.HandleMessage(models.Message{ID: 3, ConversationID: 7, Text: "three", CreatedAt: t0.Add(2 * time.Minute)})
	eventually(t, o, func(v chat.View) bool { return preview(v, 7) == "three" }, "live messages not processed")

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, logIDs(snapshot(t, o)))
}

func TestOrchestrator_SendBlankTextNeverTransmits(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7}})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := o.Send(context.Background(), text)

		var sendErr *errs.SendError
		require.ErrorAs(t, err, &sendErr)
		assert.ErrorIs(t, err, errs.ErrEmptyMessage)
	}

	transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Equal(t, []int64{1}, logIDs(snapshot(t, o)))
}

func TestOrchestrator_SendAppendsAckAndIgnoresEcho(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7}})

	ack := models.Message{ID: 42, ConversationID: 7, SenderID: me, ReceiverID: 20, Text: "hello", CreatedAt: t0.Add(time.Hour)}
	transport.On("Send", mock.Anything, models.SendRequest{SenderID: me, ReceiverID: 20, Text: "hello", ConversationID: 7}).
		Return(ack, nil).Once()

	got, err := o.Send(context.Background(), "  hello ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)

	o.HandleMessage(ack)
	o.HandleMessage(models.Message{ID: 43, ConversationID: 7, SenderID: 20, ReceiverID: me, Text: "marker", CreatedAt: t0.Add(2 * time.Hour)})

	eventually(t, o, func(v chat.View) bool { return len(v.Messages) >= 3 }, "marker not appended")
	v := snapshot(t, o)
	assert.Equal(t, []int64{1, 42, 43}, logIDs(v))
	assert.True(t, v.Messages[1].Mine)
	transport.AssertExpectations(t)
}

func TestOrchestrator_RedeliveredHistoryMessageIsIgnored(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	old := models.Message{ID: 1, ConversationID: 8, SenderID: 30, ReceiverID: me, Text: "old", CreatedAt: t0.Add(-time.Hour)}
	selectReady(t, o, api, 8, []models.Message{old})

	o.HandleMessage(models.Message{ID: 5, ConversationID: 8, SenderID: 30, ReceiverID: me, Text: "new", CreatedAt: t0.Add(time.Hour)})
	o.HandleMessage(old)
	o.HandleMessage(models.Message{ID: 6, ConversationID: 7, SenderID: 20, ReceiverID: me, Text: "marker", CreatedAt: t0.Add(30 * time.Minute)})

	eventually(t, o, func(v chat.View) bool { return preview(v, 7) == "marker" }, "marker not processed")
	v := snapshot(t, o)
	assert.Equal(t, []int64{1, 5}, logIDs(v))
	assert.Equal(t, "new", preview(v, 8))
	assert.Equal(t, int64(8), v.Conversations[0].ID)
}

func TestOrchestrator_SendUpdatesPreview(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 8, nil)

	ack := models.Message{ID: 50, ConversationID: 8, SenderID: me, ReceiverID: 30, Text: "on my way", CreatedAt: t0.Add(time.Hour)}
	transport.On("Send", mock.Anything, mock.Anything).Return(ack, nil).Once()

	_, err := o.Send(context.Background(), "on my way")
	require.NoError(t, err)

	v := snapshot(t, o)
	assert.Equal(t, "on my way", preview(v, 8))
	assert.Equal(t, int64(8), v.Conversations[0].ID)
}

func TestOrchestrator_SendTimeout(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7, Text: "hi"}})
	before := snapshot(t, o)

	transport.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(models.Message{}, context.DeadlineExceeded).Once()

	_, err := o.Send(context.Background(), "test")

	var sendErr *errs.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, errs.ErrAckTimeout)

	after := snapshot(t, o)
	assert.Equal(t, logIDs(before), logIDs(after))
	assert.Equal(t, "hi", preview(after, 7))
	assert.Equal(t, before.Conversations, after.Conversations)
}

func TestOrchestrator_SendRejected(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, nil)

	transport.On("Send", mock.Anything, mock.Anything).Return(models.Message{}, errs.ErrAckRejected).Once()

	_, err := o.Send(context.Background(), "test")

	assert.ErrorIs(t, err, errs.ErrAckRejected)
	assert.Empty(t, snapshot(t, o).Messages)
}

func TestOrchestrator_SendWithoutActiveConversation(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	_, err := o.Send(context.Background(), "hello")

	assert.ErrorIs(t, err, errs.ErrNoActiveConversation)
	transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestOrchestrator_LoadFailureKeepsDirectory(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	api.On("Conversations", mock.Anything).Return(nil, errors.New("502")).Once()

	err := o.Load(context.Background())

	var fetchErr *errs.FetchError
	require.ErrorAs(t, err, &fetchErr)
	v := snapshot(t, o)
	assert.Len(t, v.Conversations, 2)
	assert.Equal(t, "fetch", v.DirectoryError)
	assert.False(t, v.LoadingConversations)
}

func TestOrchestrator_HistoryFailureThenReselect(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	api.On("Messages", mock.Anything, int64(7)).Return(nil, errors.New("timeout")).Once()
	err := o.SelectConversation(context.Background(), 7)

	var fetchErr *errs.FetchError
	require.ErrorAs(t, err, &fetchErr)
	v := snapshot(t, o)
	assert.Equal(t, chat.PaneError, v.Pane)
	assert.Equal(t, "fetch", v.PaneError)
	assert.Empty(t, v.Messages)

	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7}})
	v = snapshot(t, o)
	assert.Equal(t, chat.PaneReady, v.Pane)
	assert.Empty(t, v.PaneError)
}

func TestOrchestrator_SendRefusedWhileHistoryFailed(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	api.On("Messages", mock.Anything, int64(7)).Return(nil, errors.New("timeout")).Once()
	require.Error(t, o.SelectConversation(context.Background(), 7))

	_, err := o.Send(context.Background(), "hello")

	var sendErr *errs.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, errs.ErrNoActiveConversation)
	assert.Equal(t, "hi", preview(snapshot(t, o), 7))
	transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestOrchestrator_LoadAndSelect(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	api.On("Conversations", mock.Anything).Return(directory(), nil).Twice()
	api.On("Messages", mock.Anything, int64(8)).Return([]models.Message{{ID: 3, ConversationID: 8}}, nil).Once()

	require.NoError(t, o.LoadAndSelect(context.Background(), 8))
	assert.Equal(t, int64(8), snapshot(t, o).ActiveID)

	require.NoError(t, o.LoadAndSelect(context.Background(), 404))
	assert.Equal(t, int64(8), snapshot(t, o).ActiveID, "unknown id leaves the selection alone")
	api.AssertExpectations(t)
}

func TestOrchestrator_ConnectionStateInView(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	eventually(t, o, func(v chat.View) bool { return v.Connected }, "not connected")

	o.HandleConnState(false, &errs.ConnectionError{Err: errs.ErrNotConnected})

	eventually(t, o, func(v chat.View) bool { return !v.Connected }, "still connected")
	v := snapshot(t, o)
	assert.Equal(t, "connection", v.ConnectionError)
	assert.False(t, v.CanSend())
}

func TestOrchestrator_LogoutResetsState(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)
	selectReady(t, o, api, 7, []models.Message{{ID: 1, ConversationID: 7}})

	transport.On("Unbind").Return().Once()

	require.NoError(t, o.SetIdentity(context.Background(), nil))

	v := snapshot(t, o)
	assert.Zero(t, v.UserID)
	assert.Empty(t, v.Conversations)
	assert.Empty(t, v.Messages)
	assert.Equal(t, chat.PaneUnselected, v.Pane)
	transport.AssertExpectations(t)

	err := o.Load(context.Background())
	assert.ErrorIs(t, err, errs.ErrNoIdentity)
}

func TestOrchestrator_SameIdentityIsNoop(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := start(t, api, transport)
	login(t, o, api, transport)

	require.NoError(t, o.SetIdentity(context.Background(), &models.Identity{ID: me}))

	transport.AssertNumberOfCalls(t, "Bind", 1)
	api.AssertNumberOfCalls(t, "Conversations", 1)
}

func TestOrchestrator_StoppedLoop(t *testing.T) {
	api, transport := new(mockAPI), new(mockTransport)
	o := chat.New(api, transport, chat.Options{}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.Run(ctx), context.Canceled)

	_, err := o.Snapshot(context.Background())
	assert.ErrorIs(t, err, chat.ErrStopped)
}
