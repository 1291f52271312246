package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookline/chatsync/pkg/store"
	"github.com/bookline/chatsync/pkg/transport"
)

// fakeBackend scripts the authoritative store.
type fakeBackend struct {
	mu        sync.Mutex
	nextID    int
	createErr error
	created   []store.Message
	history   map[string][]store.Message
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][]store.Message)}
}

func (f *fakeBackend) CreateMessage(_ context.Context, senderID, receiverID, content string, ts time.Time) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return store.Message{}, f.createErr
	}
	f.nextID++
	msg := store.Message{
		ID:         "srv-" + strconv.Itoa(f.nextID),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  ts,
		Origin:     store.OriginServer,
	}
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeBackend) History(_ context.Context, user1, user2 string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[store.PairKey(user1, user2)], nil
}

func (f *fakeBackend) RecentChats(_ context.Context, _ string) ([]map[string]any, error) {
	return nil, nil
}

// fakeTransport records pushes and lets tests inject inbound frames.
type fakeTransport struct {
	mu            sync.Mutex
	open          bool
	pushes        []transport.Frame
	msgHandlers   []func(transport.Frame)
	stateHandlers []func(transport.State)
	attempts      int
}

func (f *fakeTransport) Connect(string) { f.mu.Lock(); f.open = true; f.mu.Unlock() }
func (f *fakeTransport) Disconnect()    { f.mu.Lock(); f.open = false; f.mu.Unlock() }

func (f *fakeTransport) Send(fr transport.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.pushes = append(f.pushes, fr)
	return true
}

func (f *fakeTransport) AddMessageHandler(h func(transport.Frame)) func() {
	f.mu.Lock()
	f.msgHandlers = append(f.msgHandlers, h)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) AddStateHandler(h func(transport.State)) func() {
	f.mu.Lock()
	f.stateHandlers = append(f.stateHandlers, h)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return transport.Connected
	}
	return transport.Disconnected
}

func (f *fakeTransport) ReconnectAttempts() int { return f.attempts }

func (f *fakeTransport) deliver(fr transport.Frame) {
	f.mu.Lock()
	handlers := append([]func(transport.Frame){}, f.msgHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(fr)
	}
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func newTestSession(t *testing.T) (*Session, *fakeBackend, *fakeTransport) {
	t.Helper()
	backend := newFakeBackend()
	tr := &fakeTransport{}
	s := New(Config{SelfID: "alice", HistoryInterval: time.Hour, DirectoryInterval: time.Hour},
		store.New(), backend, tr)
	t.Cleanup(s.Close)
	return s, backend, tr
}

func TestSend_RejectsBlankContent(t *testing.T) {
	s, _, _ := newTestSession(t)

	assert.ErrorIs(t, s.Send(context.Background(), "   ", "bob"), ErrEmptyMessage)
	assert.ErrorIs(t, s.Send(context.Background(), "hi", ""), ErrNoReceiver)
}

func TestSend_OptimisticThenUpgraded(t *testing.T) {
	s, backend, _ := newTestSession(t)
	require.NoError(t, s.Start())

	require.NoError(t, s.Send(context.Background(), "Hello", "bob"))

	msgs := s.Messages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, store.OriginServer, msgs[0].Origin)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)

	backend.mu.Lock()
	createdID := backend.created[0].ID
	backend.mu.Unlock()
	assert.Equal(t, createdID, msgs[0].ID)
}

func TestSend_RollbackOnPersistenceFailure(t *testing.T) {
	s, backend, _ := newTestSession(t)
	require.NoError(t, s.Start())
	backend.createErr = errors.New("network error")

	err := s.Send(context.Background(), "Hello", "bob")
	require.Error(t, err)

	assert.Empty(t, s.Messages("bob"), "rollback must leave the conversation empty")
	assert.Equal(t, int64(1), s.Stats().SendsFailed)
}

func TestSend_PushesBestEffort(t *testing.T) {
	s, _, tr := newTestSession(t)
	require.NoError(t, s.Start())

	require.NoError(t, s.Send(context.Background(), "hi", "bob"))
	assert.Equal(t, 1, tr.pushCount())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.PushesAttempted)
	assert.Equal(t, int64(1), stats.PushesSent)
}

func TestSend_SucceedsWhileDisconnected(t *testing.T) {
	s, _, tr := newTestSession(t)
	require.NoError(t, s.Start())
	tr.Disconnect()

	require.NoError(t, s.Send(context.Background(), "Hello", "bob"))

	msgs := s.Messages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, store.OriginServer, msgs[0].Origin)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.PushesAttempted)
	assert.Equal(t, int64(0), stats.PushesSent, "push must not be counted as sent when transport is down")
}

func TestSend_SkipsOptimisticEchoForConfirmedDuplicate(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Start())

	require.NoError(t, s.Send(context.Background(), "same text", "bob"))
	require.NoError(t, s.Send(context.Background(), "same text", "bob"))

	// The second send still persists, but its server copy collapses into
	// the stored one; no transient optimistic duplicate ever appears.
	msgs := s.Messages("bob")
	assert.Len(t, msgs, 1)
}

func TestInboundFrame_MergedIntoStore(t *testing.T) {
	s, _, tr := newTestSession(t)
	require.NoError(t, s.Start())

	tr.deliver(transport.Frame{
		SenderID:   "bob",
		ReceiverID: "alice",
		Content:    "ping",
		Timestamp:  time.Now().UTC(),
	})

	msgs := s.Messages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping", msgs[0].Content)
	assert.Equal(t, int64(1), s.Stats().MessagesMerged)
}

func TestInboundFrame_DedupedAgainstHTTPCopy(t *testing.T) {
	s, _, tr := newTestSession(t)
	require.NoError(t, s.Start())
	now := time.Now().UTC()

	// Push copy arrives first (no id), HTTP-polled copy follows.
	tr.deliver(transport.Frame{SenderID: "bob", ReceiverID: "alice", Content: "ping", Timestamp: now})
	s.Store().Merge(store.Message{
		ID: "m9", SenderID: "bob", ReceiverID: "alice", Content: "ping",
		Timestamp: now.Add(time.Second), Origin: store.OriginServer,
	})

	msgs := s.Messages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ID)
}

func TestStart_RequiresIdentity(t *testing.T) {
	s := New(Config{}, store.New(), newFakeBackend(), &fakeTransport{})
	assert.ErrorIs(t, s.Start(), ErrNoIdentity)
}

func TestClose_Idempotent(t *testing.T) {
	s, _, tr := newTestSession(t)
	require.NoError(t, s.Start())

	s.Close()
	s.Close()
	assert.Equal(t, transport.Disconnected, tr.State())
}
