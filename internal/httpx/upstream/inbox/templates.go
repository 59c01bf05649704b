package inbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vadim/neo-inbox/internal/domain/template/entity"
)

// TemplatesResponse is a page of message templates
type TemplatesResponse struct {
	Templates []entity.MessageTemplate `json:"templates"`
	Total     int                      `json:"total,omitempty"`
	Page      int                      `json:"page,omitempty"`
	Limit     int                      `json:"limit,omitempty"`
}

// TemplateVersionsResponse lists the versions of a template
type TemplateVersionsResponse struct {
	Count    int                      `json:"count"`
	Versions []entity.TemplateVersion `json:"versions"`
}

// ListTemplates returns one page of templates
func (c *Client) ListTemplates(ctx context.Context, page, limit int) (*TemplatesResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out TemplatesResponse
	if err := c.call(ctx, http.MethodGet, "/templates?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return &out, nil
}

// GetTemplate returns one template
func (c *Client) GetTemplate(ctx context.Context, id string) (*entity.MessageTemplate, error) {
	var out entity.MessageTemplate
	if err := c.call(ctx, http.MethodGet, "/templates/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return &out, nil
}

// CreateTemplate creates a template
func (c *Client) CreateTemplate(ctx context.Context, in entity.CreateTemplateInput) (*entity.MessageTemplate, error) {
	var out entity.MessageTemplate
	if err := c.call(ctx, http.MethodPost, "/templates", in, &out); err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}
	return &out, nil
}

// UpdateTemplate applies a partial update
func (c *Client) UpdateTemplate(ctx context.Context, id string, in entity.UpdateTemplateInput) (*entity.MessageTemplate, error) {
	var out entity.MessageTemplate
	if err := c.call(ctx, http.MethodPut, "/templates/"+url.PathEscape(id), in, &out); err != nil {
		return nil, fmt.Errorf("updating template: %w", err)
	}
	return &out, nil
}

// DeleteTemplate removes a template
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/templates/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	return nil
}

// ToggleTemplateStatus activates or deactivates a template
func (c *Client) ToggleTemplateStatus(ctx context.Context, id string, isActive bool) (*entity.MessageTemplate, error) {
	in := map[string]bool{"isActive": isActive}

	var out entity.MessageTemplate
	if err := c.call(ctx, http.MethodPatch, "/templates/"+url.PathEscape(id)+"/status", in, &out); err != nil {
		return nil, fmt.Errorf("toggling template status: %w", err)
	}
	return &out, nil
}

// ListTemplateVersions returns every version of a template
func (c *Client) ListTemplateVersions(ctx context.Context, id string) (*TemplateVersionsResponse, error) {
	var out TemplateVersionsResponse
	if err := c.call(ctx, http.MethodGet, "/templates/"+url.PathEscape(id)+"/versions", nil, &out); err != nil {
		return nil, fmt.Errorf("listing template versions: %w", err)
	}
	return &out, nil
}
