package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent mirrors the JSON shape used by both the REST API and the push feed
type wireEvent struct {
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspaceID,omitempty"`
	ConversationID string       `json:"conversationID"`
	Type           string       `json:"type"`
	Message        *wireMessage `json:"message,omitempty"`
	ActorID        string       `json:"actorID,omitempty"`
	ActorType      ActorType    `json:"actorType"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type wireMessage struct {
	Status       Status          `json:"status,omitempty"`
	StatusReason string          `json:"statusReason,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// UnmarshalJSON decodes the wire representation, including the body variant
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	*e = Event{
		ID:             w.ID,
		WorkspaceID:    w.WorkspaceID,
		ConversationID: w.ConversationID,
		Type:           w.Type,
		ActorID:        w.ActorID,
		ActorType:      w.ActorType,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}

	if w.Message != nil {
		e.Status = w.Message.Status
		e.StatusReason = w.Message.StatusReason
		body, err := DecodeBody(w.Message.Body)
		if err != nil {
			body = undecodableBody(w.Message.Body)
		}
		e.Body = body
	}

	return nil
}

// MarshalJSON encodes the event in the wire representation
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:             e.ID,
		WorkspaceID:    e.WorkspaceID,
		ConversationID: e.ConversationID,
		Type:           e.Type,
		ActorID:        e.ActorID,
		ActorType:      e.ActorType,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}

	if e.Body != nil || e.Status != "" {
		body, err := EncodeBody(e.Body)
		if err != nil {
			return nil, err
		}
		w.Message = &wireMessage{
			Status:       e.Status,
			StatusReason: e.StatusReason,
			Body:         body,
		}
	}

	return json.Marshal(w)
}
