package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/realtime"
)

// PushChannel defines the live-update channel operations the view can see
type PushChannel interface {
	Connect(ctx context.Context, token string) error
	State() realtime.State
	Attempts() int
	ActiveSubscriptions() []string
}

// RealtimeHandler exposes the push channel state
type RealtimeHandler struct {
	channel PushChannel
	token   func() string
}

// NewRealtimeHandler creates a new realtime handler. token supplies the
// session token for manual reconnects.
func NewRealtimeHandler(channel PushChannel, token func() string) *RealtimeHandler {
	return &RealtimeHandler{channel: channel, token: token}
}

// RegisterRoutes registers realtime routes
func (h *RealtimeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime", h.Status())
	r.Post("/realtime/connect", h.Connect())
}

// RealtimeStatus is the channel state shown by the view
type RealtimeStatus struct {
	State         string   `json:"state"`
	Attempts      int      `json:"attempts"`
	Subscriptions []string `json:"subscriptions"`
}

func (h *RealtimeHandler) status() RealtimeStatus {
	subs := h.channel.ActiveSubscriptions()
	if subs == nil {
		subs = []string{}
	}
	return RealtimeStatus{
		State:         h.channel.State().String(),
		Attempts:      h.channel.Attempts(),
		Subscriptions: subs,
	}
}

// Status handles GET /realtime
func (h *RealtimeHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, h.status())
	}
}

// Connect handles POST /realtime/connect. It restarts the channel after
// reconnect attempts ran out.
func (h *RealtimeHandler) Connect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.channel.Connect(r.Context(), h.token())
		switch {
		case err == nil, errors.Is(err, realtime.ErrConnectInProgress):
			response.OK(w, h.status())
		case errors.Is(err, realtime.ErrMissingToken):
			response.Unauthorized(w, "not authenticated")
		default:
			response.BadGateway(w, err.Error())
		}
	}
}
