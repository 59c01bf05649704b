package inbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vadim/neo-inbox/internal/domain/conversation/entity"
)

// AgentsResponse lists the agents of the workspace
type AgentsResponse struct {
	Agents []entity.Agent `json:"agents"`
	Count  int            `json:"count"`
}

// ListContacts returns every contact of the workspace
func (c *Client) ListContacts(ctx context.Context) ([]entity.Contact, error) {
	var out []entity.Contact
	if err := c.call(ctx, http.MethodGet, "/contacts", nil, &out); err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	return out, nil
}

// GetContact returns one contact
func (c *Client) GetContact(ctx context.Context, contactID string) (*entity.Contact, error) {
	var out entity.Contact
	if err := c.call(ctx, http.MethodGet, "/contacts/"+url.PathEscape(contactID), nil, &out); err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}
	return &out, nil
}

// CreateContact creates a contact
func (c *Client) CreateContact(ctx context.Context, in entity.NewContactInput) (*entity.Contact, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out entity.Contact
	if err := c.call(ctx, http.MethodPost, "/contacts", in, &out); err != nil {
		return nil, fmt.Errorf("creating contact: %w", err)
	}
	return &out, nil
}

// ListAgents returns the agents of the workspace
func (c *Client) ListAgents(ctx context.Context) (*AgentsResponse, error) {
	var out AgentsResponse
	if err := c.call(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return &out, nil
}
