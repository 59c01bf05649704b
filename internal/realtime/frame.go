package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Frame vocabulary of the push endpoint
const (
	FrameTypeSubscription      = "subscription"
	FrameTypeConversationEvent = "conversationEvent"

	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	TopicConversationEvent = "conversationEvent"
)

// ControlFrame is sent by the client to manage subscriptions
type ControlFrame struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	Topic      string `json:"topic"`
	ResourceID string `json:"resourceID"`
}

func subscribeFrame(conversationID string) ControlFrame {
	return ControlFrame{
		Type:       FrameTypeSubscription,
		Action:     ActionSubscribe,
		Topic:      TopicConversationEvent,
		ResourceID: conversationID,
	}
}

func unsubscribeFrame(conversationID string) ControlFrame {
	return ControlFrame{
		Type:       FrameTypeSubscription,
		Action:     ActionUnsubscribe,
		Topic:      TopicConversationEvent,
		ResourceID: conversationID,
	}
}

// inboundFrame is any frame pushed by the server; Data is decoded per Type
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// URLFromAPIBase derives the push endpoint from the REST base URL,
// e.g. https://host/api/v1 -> wss://host/api/v1/ws
func URLFromAPIBase(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing api base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api base scheme: %q", u.Scheme)
	}

	u.Path += "/ws"
	return u.String(), nil
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing push url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
