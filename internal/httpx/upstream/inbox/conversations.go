package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	conventity "github.com/vadim/neo-inbox/internal/domain/conversation/entity"
	"github.com/vadim/neo-inbox/internal/domain/event/entity"
)

// ConversationsResponse is a page of conversations
type ConversationsResponse struct {
	Conversations []conventity.Conversation `json:"conversations"`
	Total         int                       `json:"total,omitempty"`
	Page          int                       `json:"page,omitempty"`
	Limit         int                       `json:"limit,omitempty"`
}

// EventsResponse is the event history of a conversation
type EventsResponse struct {
	Events []entity.Event `json:"events"`
	Total  int            `json:"total,omitempty"`
	Page   int            `json:"page,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// LegacyMessage is the pre-event message shape still served by /messages
type LegacyMessage struct {
	Body json.RawMessage `json:"body"`
}

// MessagesResponse is the legacy message history of a conversation
type MessagesResponse struct {
	Messages []LegacyMessage `json:"messages"`
	Total    int             `json:"total,omitempty"`
	Page     int             `json:"page,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// ListConversations returns the conversations of the workspace
func (c *Client) ListConversations(ctx context.Context) (*ConversationsResponse, error) {
	var out ConversationsResponse
	if err := c.call(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return &out, nil
}

// ListEvents returns the full event history of a conversation, in server order
func (c *Client) ListEvents(ctx context.Context, conversationID string) ([]entity.Event, error) {
	var out EventsResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/events"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return out.Events, nil
}

// ListMessages returns the legacy message history of a conversation
func (c *Client) ListMessages(ctx context.Context, conversationID string) (*MessagesResponse, error) {
	var out MessagesResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return &out, nil
}

type sendMessageRequest struct {
	Body json.RawMessage `json:"body"`
}

// SendMessage posts a message to a conversation. The returned event is the
// server's record when the API echoes one, nil otherwise.
func (c *Client) SendMessage(ctx context.Context, conversationID string, body entity.Body) (*entity.Event, error) {
	raw, err := entity.EncodeBody(body)
	if err != nil {
		return nil, err
	}

	var out json.RawMessage
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.call(ctx, http.MethodPost, path, sendMessageRequest{Body: raw}, &out); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	var probe struct {
		ID string `json:"id"`
	}
	if len(out) == 0 || json.Unmarshal(out, &probe) != nil || probe.ID == "" {
		return nil, nil
	}

	var ev entity.Event
	if err := json.Unmarshal(out, &ev); err != nil {
		return nil, nil
	}
	return &ev, nil
}
