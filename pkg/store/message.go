package store

import "time"

// Origin tags how a message entered the local store.
type Origin string

const (
	// OriginServer marks a message confirmed by the authoritative store.
	OriginServer Origin = "server"
	// OriginOptimistic marks a locally-synthesized message shown before
	// server confirmation.
	OriginOptimistic Origin = "optimistic"
)

// Message is one chat message inside a pairwise conversation.
//
// A server message carries the authoritative id assigned by the message
// store; an optimistic message carries a locally-generated "local-" id until
// it is upgraded or rolled back.
type Message struct {
	ID         string    `json:"id,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Origin     Origin    `json:"-"`
}

// PairKey returns the unordered conversation key for two participants:
// the identifiers sorted lexicographically and joined. Both sides of a
// conversation address the same slot regardless of who is "self".
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
