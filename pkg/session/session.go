// Package session wires the sync engine for one authenticated identity: the
// message store, the push transport, the history poll, the conversation
// directory and the event bus. A Session is constructed at login and closed
// at logout; nothing here is process-wide, so independent sessions can
// coexist (and be tested) without shared state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bookline/chatsync/pkg/directory"
	"github.com/bookline/chatsync/pkg/events"
	"github.com/bookline/chatsync/pkg/history"
	"github.com/bookline/chatsync/pkg/logger"
	"github.com/bookline/chatsync/pkg/store"
	"github.com/bookline/chatsync/pkg/transport"
)

// ErrNoIdentity is returned when sending without an authenticated identity.
var ErrNoIdentity = errors.New("session has no identity")

// ErrEmptyMessage is returned when sending blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// ErrNoReceiver is returned when sending without a receiver.
var ErrNoReceiver = errors.New("no receiver specified")

// Backend is the authoritative-store surface the session depends on.
// *backend.Client satisfies it.
type Backend interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string, ts time.Time) (store.Message, error)
	History(ctx context.Context, user1, user2 string) ([]store.Message, error)
	RecentChats(ctx context.Context, userID string) ([]map[string]any, error)
}

// Transport is the push-channel surface the session depends on.
// *transport.Manager satisfies it.
type Transport interface {
	Connect(selfID string)
	Disconnect()
	Send(f transport.Frame) bool
	AddMessageHandler(h func(transport.Frame)) func()
	AddStateHandler(h func(transport.State)) func()
	State() transport.State
	ReconnectAttempts() int
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	MessagesMerged    int64
	PushesAttempted   int64
	PushesSent        int64
	SendsFailed       int64
	ReconnectAttempts int
}

// Config tunes a Session. Zero values select the package defaults.
type Config struct {
	SelfID            string
	HistoryInterval   time.Duration
	DirectoryInterval time.Duration
}

// Session is the sync engine for one identity.
type Session struct {
	selfID            string
	directoryInterval time.Duration

	store   *store.Store
	backend Backend
	conn    Transport
	dir     *directory.Directory
	syncer  *history.Syncer
	bus     *events.Bus

	cancel context.CancelFunc
	unsubs []func()

	statMu sync.Mutex
	stats  Stats

	started atomic.Bool
	closed  atomic.Bool
}

// New assembles a Session around an existing store, backend client and
// transport manager. Call Start to begin syncing.
func New(cfg Config, st *store.Store, backend Backend, conn Transport) *Session {
	if cfg.HistoryInterval <= 0 {
		cfg.HistoryInterval = history.DefaultPollInterval
	}
	if cfg.DirectoryInterval <= 0 {
		cfg.DirectoryInterval = directory.DefaultRefreshInterval
	}

	s := &Session{
		selfID:            cfg.SelfID,
		directoryInterval: cfg.DirectoryInterval,
		store:             st,
		backend:           backend,
		conn:              conn,
		bus:               events.NewBus(),
	}
	s.dir = directory.New(backend, directory.WithOnRefresh(func([]directory.Summary) {
		s.bus.TryPublish(events.Event{Kind: events.KindDirectoryUpdated})
	}))
	s.syncer = history.NewSyncer(st, backend, cfg.HistoryInterval, history.WithOnMerge(s.onPolledMerge))
	return s
}

// Start connects the push transport, subscribes to its streams and begins
// the directory refresh loop. Idempotent.
func (s *Session) Start() error {
	if s.selfID == "" {
		return ErrNoIdentity
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.unsubs = append(s.unsubs,
		s.conn.AddMessageHandler(s.onFrame),
		s.conn.AddStateHandler(s.onState),
	)
	s.conn.Connect(s.selfID)

	go s.dir.Run(ctx, s.selfID, s.directoryInterval)

	logger.InfoCF("session", "started", map[string]any{"user_id": s.selfID})
	return nil
}

// Send performs a user-initiated send: an optimistic entry becomes visible
// immediately, persistence runs against the authoritative store, and on
// success the entry is upgraded in place and the frame is pushed
// best-effort. On persistence failure the optimistic entry is rolled back
// and the error returned; retry is the user's call, never automatic.
func (s *Session) Send(ctx context.Context, content, receiverID string) error {
	if s.selfID == "" {
		return ErrNoIdentity
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if receiverID == "" {
		return ErrNoReceiver
	}

	key := store.PairKey(s.selfID, receiverID)

	// A quick resubmit of identical text already confirmed by the server
	// gets no second optimistic echo; merge would collapse it anyway, but
	// the flicker is avoidable.
	var optimistic store.Message
	haveOptimistic := false
	if !s.store.HasServerMessage(s.selfID, receiverID, content) {
		optimistic = s.store.AddOptimistic(s.selfID, receiverID, content)
		haveOptimistic = true
		s.bus.TryPublish(events.Event{
			Kind:            events.KindMessageMerged,
			ConversationKey: key,
			Message:         optimistic,
		})
	}

	saved, err := s.backend.CreateMessage(ctx, s.selfID, receiverID, content, time.Now().UTC())
	if err != nil {
		if haveOptimistic {
			s.store.Remove(key, optimistic.ID)
		}
		s.statMu.Lock()
		s.stats.SendsFailed++
		s.statMu.Unlock()
		s.bus.TryPublish(events.Event{
			Kind:            events.KindSyncError,
			ConversationKey: key,
			Err:             err,
		})
		return fmt.Errorf("send message: %w", err)
	}

	if s.store.Merge(saved) {
		s.recordMerge(saved, key)
	}

	// Low-latency push for the peer; their merge dedupes this against the
	// HTTP-origin copy if both arrive.
	s.statMu.Lock()
	s.stats.PushesAttempted++
	s.statMu.Unlock()
	pushed := s.conn.Send(transport.Frame{
		SenderID:   s.selfID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	})
	if pushed {
		s.statMu.Lock()
		s.stats.PushesSent++
		s.statMu.Unlock()
	}

	return nil
}

// SetActiveConversation re-targets the history poll at a new peer. An empty
// peer deactivates polling entirely.
func (s *Session) SetActiveConversation(otherID string) {
	if otherID == "" {
		s.syncer.Deactivate()
		return
	}
	s.syncer.Activate(s.selfID, otherID)
}

// Messages returns the ordered conversation with a peer.
func (s *Session) Messages(otherID string) []store.Message {
	return s.store.Read(s.selfID, otherID)
}

// Recent returns the current conversation summaries.
func (s *Session) Recent() []directory.Summary {
	return s.dir.Summaries()
}

// RefreshDirectory forces an immediate conversation-list refresh.
func (s *Session) RefreshDirectory(ctx context.Context) error {
	return s.dir.Refresh(ctx, s.selfID)
}

// Events returns the notification bus for the UI layer.
func (s *Session) Events() *events.Bus {
	return s.bus
}

// Store exposes the underlying message store.
func (s *Session) Store() *store.Store {
	return s.store
}

// ConnectionState returns the current push-transport state.
func (s *Session) ConnectionState() transport.State {
	return s.conn.State()
}

// Stats returns a snapshot of engine counters.
func (s *Session) Stats() Stats {
	s.statMu.Lock()
	snapshot := s.stats
	s.statMu.Unlock()
	snapshot.ReconnectAttempts = s.conn.ReconnectAttempts()
	return snapshot
}

// Close tears the session down: history polling, directory refresh, transport
// subscriptions and the connection itself. Every exit path (conversation
// switch, logout, process shutdown) must reach this to avoid timer and
// socket leaks. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.syncer.Close()
	if s.cancel != nil {
		s.cancel()
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.conn.Disconnect()
	s.bus.Close()
	logger.InfoCF("session", "closed", map[string]any{"user_id": s.selfID})
}

// onFrame merges a transport-pushed message. Pushed copies carry no server
// id; the eventual HTTP copy upgrades them in place.
func (s *Session) onFrame(f transport.Frame) {
	msg := store.Message{
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Content:    f.Content,
		Timestamp:  f.Timestamp,
		Origin:     store.OriginServer,
	}
	if s.store.Merge(msg) {
		s.recordMerge(msg, store.PairKey(f.SenderID, f.ReceiverID))
	}
}

func (s *Session) onState(st transport.State) {
	logger.InfoCF("session", "connection state changed", map[string]any{"state": st.String()})
	s.bus.TryPublish(events.Event{
		Kind:      events.KindConnectionChanged,
		Connected: st == transport.Connected,
	})
}

func (s *Session) onPolledMerge(m store.Message) {
	s.recordMerge(m, store.PairKey(m.SenderID, m.ReceiverID))
}

func (s *Session) recordMerge(m store.Message, key string) {
	s.statMu.Lock()
	s.stats.MessagesMerged++
	s.statMu.Unlock()
	s.bus.TryPublish(events.Event{
		Kind:            events.KindMessageMerged,
		ConversationKey: key,
		Message:         m,
	})
}
