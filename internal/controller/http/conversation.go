package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	evententity "github.com/vadim/neo-inbox/internal/domain/event/entity"
	"github.com/vadim/neo-inbox/internal/domain/event/service"
	templateentity "github.com/vadim/neo-inbox/internal/domain/template/entity"
	templateservice "github.com/vadim/neo-inbox/internal/domain/template/service"
	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
	"github.com/vadim/neo-inbox/internal/realtime"
)

// EventSync defines the synchronization controller operations
type EventSync interface {
	Open(ctx context.Context, conversationID string) service.View
	Active() string
	Snapshot() service.View
	RefreshEvents(ctx context.Context) service.View
	SendText(ctx context.Context, text string) (service.View, error)
	SendTemplate(ctx context.Context, templateName, locale string) (service.View, error)
	SendImage(ctx context.Context, mediaID, caption string) (service.View, error)
	HandlePush(ev evententity.Event)
	DiscardEvent(eventID string) error
	ClearCache()
	Close()
}

// ConversationLister lists conversations from the server
type ConversationLister interface {
	ListConversations(ctx context.Context) (*inbox.ConversationsResponse, error)
}

// Subscriber registers conversations on the push channel
type Subscriber interface {
	SubscribeToConversation(conversationID string, handler realtime.Handler) bool
	UnsubscribeFromConversation(conversationID string) bool
}

// TemplateResolver picks the template and locale to send
type TemplateResolver interface {
	Resolve(ctx context.Context, id, locale string) (*templateentity.MessageTemplate, string, error)
}

// ConversationHandler handles HTTP requests for conversations
type ConversationHandler struct {
	lister    ConversationLister
	sync      EventSync
	push      Subscriber
	templates TemplateResolver
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(lister ConversationLister, sync EventSync, push Subscriber, templates TemplateResolver) *ConversationHandler {
	return &ConversationHandler{
		lister:    lister,
		sync:      sync,
		push:      push,
		templates: templates,
	}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.List())

		r.Route("/{conversationId}", func(r chi.Router) {
			r.Get("/events", h.Events())
			r.Post("/refresh", h.Refresh())
			r.Post("/messages", h.Send())
			r.Delete("/events/{eventId}", h.Discard())
			r.Delete("/cache", h.ClearCache())
			r.Post("/close", h.CloseConversation())
		})
	})
}

// ViewResponse is the rendered state of the open conversation
type ViewResponse struct {
	service.View
	Error string `json:"error,omitempty"`
}

func toViewResponse(v service.View) ViewResponse {
	out := ViewResponse{View: v}
	if out.Events == nil {
		out.Events = []evententity.Event{}
	}
	if v.Err != nil {
		out.Error = v.Err.Error()
	}
	return out
}

// List handles GET /conversations
func (h *ConversationHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.lister.ListConversations(r.Context())
		if err != nil {
			handleUpstreamError(w, err)
			return
		}
		response.OK(w, resp)
	}
}

// Events handles GET /conversations/{conversationId}/events. The
// conversation becomes the active one and is subscribed for pushes.
func (h *ConversationHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := h.open(r.Context(), chi.URLParam(r, "conversationId"))
		writeView(w, view)
	}
}

// Refresh handles POST /conversations/{conversationId}/refresh
func (h *ConversationHandler) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationId")
		if h.sync.Active() != id {
			writeView(w, h.open(r.Context(), id))
			return
		}
		writeView(w, h.sync.RefreshEvents(r.Context()))
	}
}

// SendMessageRequest is a message composed in the view. Exactly one of
// text, template or media is sent, in that order of precedence: media,
// template, text.
type SendMessageRequest struct {
	Text         string `json:"text,omitempty"`
	TemplateID   string `json:"templateId,omitempty"`
	TemplateName string `json:"templateName,omitempty"`
	Locale       string `json:"locale,omitempty"`
	MediaID      string `json:"mediaId,omitempty"`
	Caption      string `json:"caption,omitempty"`
}

// Send handles POST /conversations/{conversationId}/messages
func (h *ConversationHandler) Send() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		id := chi.URLParam(r, "conversationId")
		if h.sync.Active() != id {
			h.open(r.Context(), id)
		}

		view, err := h.send(r.Context(), req)
		if err != nil {
			handleSendError(w, view, err)
			return
		}

		response.Created(w, toViewResponse(view))
	}
}

func (h *ConversationHandler) send(ctx context.Context, req SendMessageRequest) (service.View, error) {
	switch {
	case req.MediaID != "":
		return h.sync.SendImage(ctx, req.MediaID, req.Caption)

	case req.TemplateID != "":
		tmpl, locale, err := h.templates.Resolve(ctx, req.TemplateID, req.Locale)
		if err != nil {
			return h.sync.Snapshot(), err
		}
		return h.sync.SendTemplate(ctx, tmpl.Name, locale)

	case req.TemplateName != "":
		return h.sync.SendTemplate(ctx, req.TemplateName, req.Locale)

	default:
		return h.sync.SendText(ctx, req.Text)
	}
}

// Discard handles DELETE /conversations/{conversationId}/events/{eventId}.
// Only a message that failed to send can be discarded.
func (h *ConversationHandler) Discard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sync.Active() != chi.URLParam(r, "conversationId") {
			response.NotFound(w, "conversation is not open")
			return
		}

		err := h.sync.DiscardEvent(chi.URLParam(r, "eventId"))
		switch {
		case err == nil:
			writeView(w, h.sync.Snapshot())
		case errors.Is(err, evententity.ErrNotDiscardable):
			response.BadRequest(w, err.Error())
		case errors.Is(err, evententity.ErrEventNotFound):
			response.NotFound(w, err.Error())
		default:
			response.InternalError(w, "internal server error")
		}
	}
}

// ClearCache handles DELETE /conversations/{conversationId}/cache
func (h *ConversationHandler) ClearCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.sync.Active() == chi.URLParam(r, "conversationId") {
			h.sync.ClearCache()
		}
		response.NoContent(w)
	}
}

// CloseConversation handles POST /conversations/{conversationId}/close
func (h *ConversationHandler) CloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationId")
		if h.sync.Active() == id {
			h.sync.Close()
			h.push.UnsubscribeFromConversation(id)
		}
		response.NoContent(w)
	}
}

// open switches the active conversation and moves the push subscription
func (h *ConversationHandler) open(ctx context.Context, id string) service.View {
	prev := h.sync.Active()
	if prev == id {
		return h.sync.Snapshot()
	}

	if prev != "" {
		h.push.UnsubscribeFromConversation(prev)
	}
	view := h.sync.Open(ctx, id)
	h.push.SubscribeToConversation(id, h.sync.HandlePush)
	return view
}

func writeView(w http.ResponseWriter, view service.View) {
	if view.IsUnauthorized() {
		response.Unauthorized(w, "session expired")
		return
	}
	response.OK(w, toViewResponse(view))
}

func handleSendError(w http.ResponseWriter, view service.View, err error) {
	switch {
	case errors.Is(err, evententity.ErrEmptyMessage),
		errors.Is(err, evententity.ErrMessageTooLong),
		errors.Is(err, evententity.ErrMediaRequired),
		errors.Is(err, evententity.ErrTemplateMissing),
		errors.Is(err, templateservice.ErrTemplateInactive),
		errors.Is(err, templateservice.ErrLocaleMissing):
		response.BadRequest(w, err.Error())
	case errors.Is(err, templateentity.ErrTemplateNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, inbox.ErrUnauthorized):
		response.Unauthorized(w, "session expired")
	case errors.Is(err, inbox.ErrNotFound):
		response.NotFound(w, "conversation not found")
	default:
		// the view carries the failed optimistic event
		out := toViewResponse(view)
		out.Error = err.Error()
		response.JSON(w, http.StatusBadGateway, out)
	}
}
