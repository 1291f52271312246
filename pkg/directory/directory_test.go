package directory

import (
	"context"
	"errors"
	"testing"
)

func TestResolveOtherParticipant(t *testing.T) {
	tests := []struct {
		name   string
		record map[string]any
		selfID string
		want   string
	}{
		{
			name:   "direct userId field",
			record: map[string]any{"userId": "bob"},
			selfID: "alice",
			want:   "bob",
		},
		{
			name: "direct field beats participants array",
			record: map[string]any{
				"userId":       "bob",
				"participants": []any{"alice", "carol"},
			},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "embedded user object with _id",
			record: map[string]any{"user": map[string]any{"_id": "bob"}},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "embedded user object falls back through id variants",
			record: map[string]any{"user": map[string]any{"uid": "bob"}},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "otherUserId field",
			record: map[string]any{"otherUserId": "bob"},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "participants array excludes self",
			record: map[string]any{"participants": []any{"alice", "bob"}},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "participants with numeric ids",
			record: map[string]any{"participants": []any{float64(7), float64(9)}},
			selfID: "7",
			want:   "9",
		},
		{
			name:   "two-sided user1/user2, self is user1",
			record: map[string]any{"user1": "alice", "user2": "bob"},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "two-sided user1/user2, self is user2",
			record: map[string]any{"user1": "bob", "user2": "alice"},
			selfID: "alice",
			want:   "bob",
		},
		{
			name:   "nothing resolvable",
			record: map[string]any{"lastMessage": "hi"},
			selfID: "alice",
			want:   "",
		},
		{
			name:   "nil record",
			record: nil,
			selfID: "alice",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveOtherParticipant(tt.record, tt.selfID); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeLister scripts the recent-chats responses.
type fakeLister struct {
	records []map[string]any
	err     error
	calls   int
}

func (f *fakeLister) RecentChats(_ context.Context, _ string) ([]map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func TestRefresh_ReplacesListWholesale(t *testing.T) {
	backend := &fakeLister{records: []map[string]any{
		{"userId": "bob", "lastMessage": "see you tomorrow", "timestamp": "2026-08-29T10:00:00Z"},
		{"userId": "carol", "lastMessage": "ok"},
		{"broken": true},
	}}
	d := New(backend)

	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	summaries := d.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries (unresolvable record skipped), got %d", len(summaries))
	}
	if summaries[0].OtherID != "bob" || summaries[0].Preview != "see you tomorrow" {
		t.Errorf("unexpected first summary: %+v", summaries[0])
	}
	if summaries[0].LastActivityAt.IsZero() {
		t.Error("expected parsed activity timestamp")
	}

	backend.records = []map[string]any{{"userId": "dave"}}
	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	summaries = d.Summaries()
	if len(summaries) != 1 || summaries[0].OtherID != "dave" {
		t.Errorf("expected wholesale replacement, got %+v", summaries)
	}
}

func TestRefresh_FailureKeepsOldList(t *testing.T) {
	backend := &fakeLister{records: []map[string]any{{"userId": "bob"}}}
	d := New(backend)

	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	backend.err = errors.New("store unavailable")
	if err := d.Refresh(context.Background(), "alice"); err == nil {
		t.Fatal("expected refresh error")
	}
	if d.LastError() == nil {
		t.Error("expected transient error state")
	}
	if len(d.Summaries()) != 1 {
		t.Error("failed refresh must leave the previous list untouched")
	}

	backend.err = nil
	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if d.LastError() != nil {
		t.Error("expected error state cleared after successful refresh")
	}
}

func TestWithOnRefresh_FiresOnSuccessOnly(t *testing.T) {
	backend := &fakeLister{records: []map[string]any{{"userId": "bob"}}}
	var notified [][]Summary
	d := New(backend, WithOnRefresh(func(s []Summary) {
		notified = append(notified, s)
	}))

	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(notified) != 1 || len(notified[0]) != 1 {
		t.Fatalf("expected one notification with one summary, got %+v", notified)
	}

	backend.err = errors.New("store unavailable")
	if err := d.Refresh(context.Background(), "alice"); err == nil {
		t.Fatal("expected refresh error")
	}
	if len(notified) != 1 {
		t.Error("failed refresh must not notify")
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := make([]rune, 0, 80)
	for i := 0; i < 80; i++ {
		long = append(long, 'x')
	}
	backend := &fakeLister{records: []map[string]any{
		{"userId": "bob", "lastMessage": string(long)},
	}}
	d := New(backend)

	if err := d.Refresh(context.Background(), "alice"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	preview := d.Summaries()[0].Preview
	if len([]rune(preview)) != previewLimit+3 {
		t.Errorf("expected truncated preview with ellipsis, got %d runes", len([]rune(preview)))
	}
}
