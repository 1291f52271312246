// Package directory maintains the list of known conversations with recency
// and preview metadata. It is not authoritative for message content, only
// for list ordering and previews, and is re-fetched wholesale on a timer.
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookline/chatsync/pkg/logger"
)

// DefaultRefreshInterval is how often the conversation list is re-fetched
// while a session is active.
const DefaultRefreshInterval = 30 * time.Second

const previewLimit = 50

// Summary is one conversation entry in the directory.
type Summary struct {
	OtherID        string    `json:"other_id"`
	Preview        string    `json:"preview"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Lister provides the recent-chats operation of the authoritative store.
type Lister interface {
	RecentChats(ctx context.Context, userID string) ([]map[string]any, error)
}

// Option configures a Directory.
type Option func(*Directory)

// WithOnRefresh registers a callback invoked with the new conversation list
// after every successful refresh.
func WithOnRefresh(fn func([]Summary)) Option {
	return func(d *Directory) { d.onRefresh = fn }
}

// Directory holds the current conversation list for one identity.
type Directory struct {
	backend   Lister
	onRefresh func([]Summary)

	mu        sync.RWMutex
	summaries []Summary
	lastErr   error
}

// New creates an empty Directory backed by the given store client.
func New(backend Lister, opts ...Option) *Directory {
	d := &Directory{backend: backend}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Refresh re-fetches the conversation list and replaces it wholesale. On
// failure the previous list stays untouched and the error is recorded as a
// transient state readable via LastError.
func (d *Directory) Refresh(ctx context.Context, selfID string) error {
	records, err := d.backend.RecentChats(ctx, selfID)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		return fmt.Errorf("refresh directory: %w", err)
	}

	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		other := ResolveOtherParticipant(rec, selfID)
		if other == "" {
			logger.DebugCF("directory", "skipping record with no resolvable participant", map[string]any{
				"keys": len(rec),
			})
			continue
		}
		summaries = append(summaries, Summary{
			OtherID:        other,
			Preview:        previewOf(rec),
			LastActivityAt: activityOf(rec),
		})
	}

	d.mu.Lock()
	d.summaries = summaries
	d.lastErr = nil
	d.mu.Unlock()

	if d.onRefresh != nil {
		d.onRefresh(summaries)
	}
	return nil
}

// Summaries returns a copy of the current conversation list.
func (d *Directory) Summaries() []Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Summary, len(d.summaries))
	copy(out, d.summaries)
	return out
}

// LastError returns the error from the most recent failed refresh, or nil
// after a successful one.
func (d *Directory) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

// Run refreshes the directory immediately and then on a fixed interval until
// the context is cancelled. A single failed refresh never stops the loop.
func (d *Directory) Run(ctx context.Context, selfID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.Refresh(ctx, selfID); err != nil && ctx.Err() == nil {
			logger.WarnCF("directory", "refresh failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func previewOf(rec map[string]any) string {
	s, _ := rec["lastMessage"].(string)
	runes := []rune(s)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit]) + "..."
	}
	return s
}

func activityOf(rec map[string]any) time.Time {
	s, _ := rec["timestamp"].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
