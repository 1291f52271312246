// Package history pulls authoritative message history for the active
// conversation on a fixed cadence and on activation.
//
// Polling coexists with the push transport on purpose: some disconnects are
// never signaled by a close event, and the poll guarantees eventual
// consistency regardless. Payloads are small and scoped to one pair, so the
// bandwidth cost is acceptable.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/bookline/chatsync/pkg/logger"
	"github.com/bookline/chatsync/pkg/store"
)

// DefaultPollInterval is the cadence of the history fallback poll while a
// conversation is active.
const DefaultPollInterval = 3 * time.Second

// Fetcher provides the pair-history operation of the authoritative store.
type Fetcher interface {
	History(ctx context.Context, user1, user2 string) ([]store.Message, error)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithOnMerge registers a callback invoked for every message the poll
// actually merges (duplicates do not fire it).
func WithOnMerge(fn func(store.Message)) Option {
	return func(s *Syncer) { s.onMerge = fn }
}

// Syncer polls history for at most one active conversation at a time.
type Syncer struct {
	store    *store.Store
	backend  Fetcher
	interval time.Duration
	onMerge  func(store.Message)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSyncer creates a Syncer merging poll results into st.
func NewSyncer(st *store.Store, backend Fetcher, interval time.Duration, opts ...Option) *Syncer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	s := &Syncer{
		store:    st,
		backend:  backend,
		interval: interval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate makes the pair the active conversation: it fetches history
// immediately and then on every interval tick until deactivation. Any
// previously active pair stops polling first. The pair is captured here, at
// schedule time, so a stale tick can never write under a later conversation.
func (s *Syncer) Activate(selfID, otherID string) {
	s.Deactivate()

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, selfID, otherID)
}

// Deactivate stops polling. In-flight fetch results for the deactivated pair
// are discarded.
func (s *Syncer) Deactivate() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Close stops all polling. The Syncer must not be reused afterwards.
func (s *Syncer) Close() {
	s.Deactivate()
}

func (s *Syncer) run(ctx context.Context, selfID, otherID string) {
	s.fetch(ctx, selfID, otherID)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fetch(ctx, selfID, otherID)
		}
	}
}

func (s *Syncer) fetch(ctx context.Context, selfID, otherID string) {
	msgs, err := s.backend.History(ctx, selfID, otherID)
	if err != nil {
		if ctx.Err() == nil {
			logger.WarnCF("history", "poll failed", map[string]any{
				"peer":  otherID,
				"error": err.Error(),
			})
		}
		return
	}
	if ctx.Err() != nil {
		// Deactivated while the fetch was in flight; drop the result.
		return
	}

	merged := 0
	for _, m := range msgs {
		if s.store.Merge(m) {
			merged++
			if s.onMerge != nil {
				s.onMerge(m)
			}
		}
	}
	if merged > 0 {
		logger.DebugCF("history", "poll merged messages", map[string]any{
			"peer":   otherID,
			"merged": merged,
		})
	}
}
