package entity

import (
	"time"

	evententity "github.com/vadim/neo-inbox/internal/domain/event/entity"
)

// Conversation is a thread between the workspace and a contact on one platform
type Conversation struct {
	ID              string             `json:"id"`
	WorkspaceID     string             `json:"workspaceID"`
	Title           string             `json:"title"`
	Status          string             `json:"status"`
	Platform        string             `json:"platform"`
	ChannelID       string             `json:"channelID"`
	ContactID       string             `json:"contactID"`
	AssignedAgentID string             `json:"assignedAgentID"`
	Contact         *Contact           `json:"contact,omitempty"`
	LastEvent       *evententity.Event `json:"lastEvent,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// DisplayName returns the best available label for the conversation
func (c Conversation) DisplayName() string {
	if c.Contact != nil && c.Contact.ComputedDisplayName != "" {
		return c.Contact.ComputedDisplayName
	}
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// LastPreview returns a one-line summary of the latest event
func (c Conversation) LastPreview() string {
	if c.LastEvent == nil || c.LastEvent.Body == nil {
		return ""
	}
	return c.LastEvent.Body.Preview()
}
