package events

import (
	"github.com/bookline/chatsync/pkg/store"
)

// Kind classifies an engine event.
type Kind string

const (
	// KindMessageMerged fires when a message lands in the local store,
	// whether optimistic, pushed or polled.
	KindMessageMerged Kind = "message_merged"
	// KindConnectionChanged fires on every push-transport state transition.
	KindConnectionChanged Kind = "connection_changed"
	// KindDirectoryUpdated fires after a successful conversation-list refresh.
	KindDirectoryUpdated Kind = "directory_updated"
	// KindSyncError fires on recoverable failures (failed send, failed
	// refresh) that the UI may want to surface as a transient banner.
	KindSyncError Kind = "sync_error"
)

// Event is one engine notification delivered to the UI layer.
type Event struct {
	Kind            Kind          `json:"kind"`
	ConversationKey string        `json:"conversation_key,omitempty"`
	Message         store.Message `json:"message,omitzero"`
	Connected       bool          `json:"connected,omitempty"`
	Err             error         `json:"-"`
}
