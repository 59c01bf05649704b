package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/conversation/entity"
	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
)

// ContactAPI defines the REST operations for contacts and agents
type ContactAPI interface {
	ListContacts(ctx context.Context) ([]entity.Contact, error)
	GetContact(ctx context.Context, contactID string) (*entity.Contact, error)
	CreateContact(ctx context.Context, in entity.NewContactInput) (*entity.Contact, error)
	ListAgents(ctx context.Context) (*inbox.AgentsResponse, error)
}

// ContactHandler handles HTTP requests for contacts
type ContactHandler struct {
	api ContactAPI
}

// NewContactHandler creates a new contact handler
func NewContactHandler(api ContactAPI) *ContactHandler {
	return &ContactHandler{api: api}
}

// RegisterRoutes registers contact and agent routes
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Create())
		r.Get("/{contactId}", h.GetByID())
	})
	r.Get("/agents", h.Agents())
}

// ListContactsResponse represents the response for listing contacts
type ListContactsResponse struct {
	Contacts []entity.Contact `json:"contacts"`
	Total    int              `json:"total"`
}

// List handles GET /contacts
func (h *ContactHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := h.api.ListContacts(r.Context())
		if err != nil {
			handleUpstreamError(w, err)
			return
		}
		if contacts == nil {
			contacts = []entity.Contact{}
		}
		response.OK(w, ListContactsResponse{Contacts: contacts, Total: len(contacts)})
	}
}

// GetByID handles GET /contacts/{contactId}
func (h *ContactHandler) GetByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contact, err := h.api.GetContact(r.Context(), chi.URLParam(r, "contactId"))
		if err != nil {
			handleContactError(w, err)
			return
		}
		response.OK(w, contact)
	}
}

// Create handles POST /contacts
func (h *ContactHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req entity.NewContactInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		contact, err := h.api.CreateContact(r.Context(), req)
		if err != nil {
			handleContactError(w, err)
			return
		}
		response.Created(w, contact)
	}
}

// Agents handles GET /agents
func (h *ContactHandler) Agents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.api.ListAgents(r.Context())
		if err != nil {
			handleUpstreamError(w, err)
			return
		}
		response.OK(w, resp)
	}
}

func handleContactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrMissingIdentifier), errors.Is(err, entity.ErrInvalidIdentifier):
		response.BadRequest(w, err.Error())
	case errors.Is(err, inbox.ErrNotFound):
		response.NotFound(w, entity.ErrContactNotFound.Error())
	default:
		handleUpstreamError(w, err)
	}
}
