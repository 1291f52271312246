// Package store is the in-memory authoritative cache of messages grouped by
// conversation. Its merge operation is the single reconciliation path for
// every delivery source: WebSocket push, history polls and optimistic local
// sends all reduce to the same stored state regardless of arrival order.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReconcileWindow bounds how far apart two timestamps may be for
// messages with the same sender, receiver and content to still count as the
// same logical message.
const DefaultReconcileWindow = 2 * time.Minute

// Store holds all conversations for one session. All operations are
// synchronous and purely local; it is safe for use from transport callbacks,
// poll timers and user-initiated sends concurrently.
type Store struct {
	mu            sync.RWMutex
	window        time.Duration
	conversations map[string][]Message
}

// New creates an empty Store with the default reconciliation window.
func New() *Store {
	return NewWithWindow(DefaultReconcileWindow)
}

// NewWithWindow creates an empty Store with a custom reconciliation window.
// A window of zero disables the timestamp bound on duplicate collapsing.
func NewWithWindow(window time.Duration) *Store {
	return &Store{
		window:        window,
		conversations: make(map[string][]Message),
	}
}

// Merge reconciles an incoming message against stored state and reports
// whether the store changed.
//
//  1. A message whose id is already present is discarded (idempotent).
//  2. A stored entry matching on (sender, receiver, trimmed content) within
//     the reconciliation window is replaced by the incoming one. This is how
//     an optimistic entry upgrades to its server-confirmed counterpart and
//     how a duplicate delivery collapses instead of duplicating.
//  3. Otherwise the message is appended. Both delivery paths redeliver in
//     roughly-increasing time order; Read stable-sorts by timestamp as a
//     defensive measure.
func (s *Store) Merge(incoming Message) bool {
	incoming.Content = strings.TrimSpace(incoming.Content)
	key := PairKey(incoming.SenderID, incoming.ReceiverID)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.conversations[key]

	if incoming.ID != "" {
		for _, m := range list {
			if m.ID == incoming.ID {
				return false
			}
		}
	}

	for i, m := range list {
		if m.SenderID == incoming.SenderID &&
			m.ReceiverID == incoming.ReceiverID &&
			strings.TrimSpace(m.Content) == incoming.Content &&
			s.withinWindow(m.Timestamp, incoming.Timestamp) {
			list[i] = incoming
			return true
		}
	}

	s.conversations[key] = append(list, incoming)
	return true
}

// AddOptimistic stores a locally-synthesized message with a fresh
// locally-unique id and the current timestamp, and returns it so the caller
// can later target it for upgrade or rollback.
func (s *Store) AddOptimistic(selfID, receiverID, content string) Message {
	msg := Message{
		ID:         "local-" + uuid.NewString(),
		SenderID:   selfID,
		ReceiverID: receiverID,
		Content:    strings.TrimSpace(content),
		Timestamp:  time.Now().UTC(),
		Origin:     OriginOptimistic,
	}
	s.Merge(msg)
	return msg
}

// Remove deletes exactly the entry with the given id from a conversation and
// reports whether it was present. Used to roll back a failed optimistic send.
func (s *Store) Remove(conversationKey, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.conversations[conversationKey]
	for i, m := range list {
		if m.ID == id {
			s.conversations[conversationKey] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Read returns the ordered message sequence for a pair, empty if unknown.
// The result is a copy; callers cannot alias interior state.
func (s *Store) Read(selfID, otherID string) []Message {
	key := PairKey(selfID, otherID)

	s.mu.RLock()
	list := s.conversations[key]
	out := make([]Message, len(list))
	copy(out, list)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// HasServerMessage reports whether an authoritative (server-confirmed)
// message with the given sender, receiver and trimmed content is already
// stored. The send path uses this to skip a redundant optimistic echo when
// identical text is resubmitted quickly.
func (s *Store) HasServerMessage(senderID, receiverID, content string) bool {
	content = strings.TrimSpace(content)
	key := PairKey(senderID, receiverID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.conversations[key] {
		if m.Origin == OriginServer && m.ID != "" &&
			m.SenderID == senderID && m.ReceiverID == receiverID &&
			strings.TrimSpace(m.Content) == content {
			return true
		}
	}
	return false
}

func (s *Store) withinWindow(a, b time.Time) bool {
	if s.window <= 0 {
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= s.window
}
