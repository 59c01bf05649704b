package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vadim/neo-inbox/internal/domain/template/entity"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
)

// Errors returned when a template cannot be sent
var (
	ErrTemplateInactive = errors.New("template is not active")
	ErrLocaleMissing    = errors.New("template has no live content for locale")
)

// Pagination defaults
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// TemplateAPI defines the REST operations for templates
type TemplateAPI interface {
	ListTemplates(ctx context.Context, page, limit int) (*inbox.TemplatesResponse, error)
	GetTemplate(ctx context.Context, id string) (*entity.MessageTemplate, error)
	CreateTemplate(ctx context.Context, in entity.CreateTemplateInput) (*entity.MessageTemplate, error)
	UpdateTemplate(ctx context.Context, id string, in entity.UpdateTemplateInput) (*entity.MessageTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
	ToggleTemplateStatus(ctx context.Context, id string, isActive bool) (*entity.MessageTemplate, error)
	ListTemplateVersions(ctx context.Context, id string) (*inbox.TemplateVersionsResponse, error)
}

// Service handles template business logic
type Service struct {
	api TemplateAPI
}

// New creates a new template service
func New(api TemplateAPI) *Service {
	return &Service{api: api}
}

// ListInput represents input for listing templates
type ListInput struct {
	Page       int
	Limit      int
	ActiveOnly bool
}

// ListOutput represents output for listing templates
type ListOutput struct {
	Templates []entity.MessageTemplate `json:"templates"`
	Total     int                      `json:"total"`
	Page      int                      `json:"page"`
	Limit     int                      `json:"limit"`
}

// List returns one page of templates
func (s *Service) List(ctx context.Context, in ListInput) (*ListOutput, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit <= 0 {
		in.Limit = DefaultLimit
	}
	if in.Limit > MaxLimit {
		in.Limit = MaxLimit
	}

	resp, err := s.api.ListTemplates(ctx, in.Page, in.Limit)
	if err != nil {
		return nil, err
	}

	out := &ListOutput{
		Templates: resp.Templates,
		Total:     resp.Total,
		Page:      in.Page,
		Limit:     in.Limit,
	}
	if out.Templates == nil {
		out.Templates = []entity.MessageTemplate{}
	}
	if out.Total == 0 {
		out.Total = len(out.Templates)
	}

	if in.ActiveOnly {
		active := make([]entity.MessageTemplate, 0, len(out.Templates))
		for _, t := range out.Templates {
			if t.IsActive() {
				active = append(active, t)
			}
		}
		out.Templates = active
	}

	return out, nil
}

// GetByID retrieves a template by ID
func (s *Service) GetByID(ctx context.Context, id string) (*entity.MessageTemplate, error) {
	tmpl, err := s.api.GetTemplate(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return tmpl, nil
}

// Create creates a new template
func (s *Service) Create(ctx context.Context, in entity.CreateTemplateInput) (*entity.MessageTemplate, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.api.CreateTemplate(ctx, in)
}

// Update applies a partial update
func (s *Service) Update(ctx context.Context, id string, in entity.UpdateTemplateInput) (*entity.MessageTemplate, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := s.api.UpdateTemplate(ctx, id, in)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return tmpl, nil
}

// Delete deletes a template
func (s *Service) Delete(ctx context.Context, id string) error {
	return mapNotFound(s.api.DeleteTemplate(ctx, id))
}

// SetActive activates or deactivates a template
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*entity.MessageTemplate, error) {
	tmpl, err := s.api.ToggleTemplateStatus(ctx, id, active)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return tmpl, nil
}

// Versions lists the revisions of a template
func (s *Service) Versions(ctx context.Context, id string) ([]entity.TemplateVersion, error) {
	resp, err := s.api.ListTemplateVersions(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if resp.Versions == nil {
		return []entity.TemplateVersion{}, nil
	}
	return resp.Versions, nil
}

// Resolve returns the template and locale to send. The template must be
// active, and when a locale is given a live version must carry it. An empty
// locale picks the live version's locale.
func (s *Service) Resolve(ctx context.Context, id, locale string) (*entity.MessageTemplate, string, error) {
	tmpl, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !tmpl.IsActive() {
		return nil, "", ErrTemplateInactive
	}

	versions, err := s.Versions(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("loading template versions: %w", err)
	}

	for _, v := range versions {
		if v.Status != entity.VersionStatusLive {
			continue
		}
		if locale == "" || v.Content.Locale == locale {
			return tmpl, v.Content.Locale, nil
		}
	}
	return nil, "", ErrLocaleMissing
}

func mapNotFound(err error) error {
	if errors.Is(err, inbox.ErrNotFound) {
		return entity.ErrTemplateNotFound
	}
	return err
}
