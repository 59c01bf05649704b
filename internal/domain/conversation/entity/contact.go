package entity

import (
	"errors"
	"strings"
	"time"
)

// Identifier is a platform address of a contact (phone, email, handle)
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Contact is a person the workspace talks to
type Contact struct {
	ID                  string         `json:"id"`
	WorkspaceID         string         `json:"workspaceID"`
	Attributes          map[string]any `json:"attributes"`
	Identifiers         []Identifier   `json:"identifiers"`
	ComputedDisplayName string         `json:"computedDisplayName"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Agent is a workspace member answering conversations
type Agent struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User is the signed-in operator
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Contact errors
var (
	ErrContactNotFound   = errors.New("contact not found")
	ErrMissingIdentifier = errors.New("contact needs at least one identifier")
	ErrInvalidIdentifier = errors.New("contact identifier needs type and value")
)

// NewContactInput is the payload for creating a contact
type NewContactInput struct {
	Attributes  map[string]any `json:"attributes"`
	Identifiers []Identifier   `json:"identifiers"`
}

// Validate checks the contact payload
func (in NewContactInput) Validate() error {
	if len(in.Identifiers) == 0 {
		return ErrMissingIdentifier
	}
	for _, id := range in.Identifiers {
		if strings.TrimSpace(id.Type) == "" || strings.TrimSpace(id.Value) == "" {
			return ErrInvalidIdentifier
		}
	}
	return nil
}
