package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/template/entity"
	"github.com/vadim/neo-inbox/internal/domain/template/service"
	"github.com/vadim/neo-inbox/internal/httpx/response"
)

// TemplateService defines the interface for template operations
type TemplateService interface {
	List(ctx context.Context, in service.ListInput) (*service.ListOutput, error)
	GetByID(ctx context.Context, id string) (*entity.MessageTemplate, error)
	Create(ctx context.Context, in entity.CreateTemplateInput) (*entity.MessageTemplate, error)
	Update(ctx context.Context, id string, in entity.UpdateTemplateInput) (*entity.MessageTemplate, error)
	Delete(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) (*entity.MessageTemplate, error)
	Versions(ctx context.Context, id string) ([]entity.TemplateVersion, error)
}

// TemplateHandler handles HTTP requests for templates
type TemplateHandler struct {
	svc TemplateService
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(svc TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

// RegisterRoutes registers template routes
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Create())
		r.Get("/{templateId}", h.GetByID())
		r.Put("/{templateId}", h.Update())
		r.Delete("/{templateId}", h.Delete())

		// Activate or deactivate
		r.Patch("/{templateId}/status", h.SetStatus())

		r.Get("/{templateId}/versions", h.Versions())
	})
}

// List handles GET /templates
func (h *TemplateHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := service.ListInput{
			Page:       1,
			Limit:      service.DefaultLimit,
			ActiveOnly: r.URL.Query().Get("active") == "true",
		}
		if p := r.URL.Query().Get("page"); p != "" {
			if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
				in.Page = parsed
			}
		}
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				in.Limit = parsed
			}
		}

		out, err := h.svc.List(r.Context(), in)
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.OK(w, out)
	}
}

// Create handles POST /templates
func (h *TemplateHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.CreateTemplateInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		tmpl, err := h.svc.Create(r.Context(), req)
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.Created(w, tmpl)
	}
}

// GetByID handles GET /templates/{templateId}
func (h *TemplateHandler) GetByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "templateId"))
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.OK(w, tmpl)
	}
}

// Update handles PUT /templates/{templateId}
func (h *TemplateHandler) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.UpdateTemplateInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		tmpl, err := h.svc.Update(r.Context(), chi.URLParam(r, "templateId"), req)
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.OK(w, tmpl)
	}
}

// Delete handles DELETE /templates/{templateId}
func (h *TemplateHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Delete(r.Context(), chi.URLParam(r, "templateId")); err != nil {
			handleTemplateError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// SetStatusRequest represents the request body for toggling a template
type SetStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// SetStatus handles PATCH /templates/{templateId}/status
func (h *TemplateHandler) SetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.IsActive == nil {
			response.BadRequest(w, "isActive is required")
			return
		}

		tmpl, err := h.svc.SetActive(r.Context(), chi.URLParam(r, "templateId"), *req.IsActive)
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.OK(w, tmpl)
	}
}

// ListVersionsResponse represents the response for listing versions
type ListVersionsResponse struct {
	Versions []entity.TemplateVersion `json:"versions"`
	Count    int                      `json:"count"`
}

// Versions handles GET /templates/{templateId}/versions
func (h *TemplateHandler) Versions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := h.svc.Versions(r.Context(), chi.URLParam(r, "templateId"))
		if err != nil {
			handleTemplateError(w, err)
			return
		}
		response.OK(w, ListVersionsResponse{Versions: versions, Count: len(versions)})
	}
}

func handleTemplateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrTemplateNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrEmptyName),
		errors.Is(err, entity.ErrNameTooLong),
		errors.Is(err, entity.ErrInvalidName),
		errors.Is(err, entity.ErrEmptyPlatform),
		errors.Is(err, entity.ErrEmptyCategory),
		errors.Is(err, entity.ErrEmptyUpdate):
		response.BadRequest(w, err.Error())
	default:
		handleUpstreamError(w, err)
	}
}
