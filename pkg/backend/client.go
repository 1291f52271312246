// Package backend is the HTTP client for the authoritative message store.
//
// The store is the source of truth for message history; the push transport is
// only a low-latency hint layered on top of it. Three operations make up the
// entire contract: create a message, fetch pair history, list recent chats.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bookline/chatsync/pkg/store"
)

// DefaultTimeout bounds every request to the store.
const DefaultTimeout = 10 * time.Second

// Client talks to the authoritative store with a bearer credential.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client for the given API base URL
// (e.g. "http://host:4000"). An empty token sends unauthenticated requests.
func NewClient(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// wireMessage tolerates the upstream id schema, which is inconsistent across
// store deployments (some return "_id", some "id"). Normalization happens
// here, once; everything downstream sees store.Message.
type wireMessage struct {
	MongoID    string    `json:"_id"`
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

func (w wireMessage) toMessage() store.Message {
	id := w.MongoID
	if id == "" {
		id = w.ID
	}
	return store.Message{
		ID:         id,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Content:    w.Content,
		Timestamp:  w.Timestamp,
		Origin:     store.OriginServer,
	}
}

type createRequest struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// CreateMessage persists a message and returns the authoritative record with
// its server-assigned id.
func (c *Client) CreateMessage(ctx context.Context, senderID, receiverID, content string, ts time.Time) (store.Message, error) {
	var w wireMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createRequest{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
			Timestamp:  ts,
		}).
		SetResult(&w).
		Post("/messages")
	if err != nil {
		return store.Message{}, fmt.Errorf("create message: %w", err)
	}
	if resp.IsError() {
		return store.Message{}, fmt.Errorf("create message: status %d", resp.StatusCode())
	}

	msg := w.toMessage()
	if msg.ID == "" {
		return store.Message{}, errors.New("create message: response missing server id")
	}
	return msg, nil
}

// History fetches the full ordered history for a pair of participants.
func (c *Client) History(ctx context.Context, user1, user2 string) ([]store.Message, error) {
	var ws []wireMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user1": user1,
			"user2": user2,
		}).
		SetResult(&ws).
		Get("/messages")
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch history: status %d", resp.StatusCode())
	}

	out := make([]store.Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.toMessage())
	}
	return out, nil
}

// RecentChats fetches the conversation summaries for an identity. Records
// are returned as decoded JSON objects; their shape varies across store
// versions, so the directory package owns normalization.
func (c *Client) RecentChats(ctx context.Context, userID string) ([]map[string]any, error) {
	var records []map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("userId", userID).
		SetResult(&records).
		Get("/chats/recent")
	if err != nil {
		return nil, fmt.Errorf("fetch recent chats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch recent chats: status %d", resp.StatusCode())
	}
	return records, nil
}
