package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/conversation/entity"
	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/session"
)

// SessionManager defines the login operations
type SessionManager interface {
	BeginLogin(ctx context.Context, email string) (string, error)
	CompleteLogin(ctx context.Context, challengeID, code string) (entity.User, error)
	Logout(ctx context.Context) error
	User() (entity.User, bool)
}

// AuthHandler handles HTTP requests for the operator session
type AuthHandler struct {
	sessions SessionManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions SessionManager) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login())
		r.Post("/complete", h.Complete())
		r.Post("/logout", h.Logout())
		r.Get("/me", h.Me())
	})
}

// LoginRequest starts the emailed code flow
type LoginRequest struct {
	Email string `json:"email"`
}

// LoginResponse carries the challenge to answer
type LoginResponse struct {
	ChallengeID string `json:"challengeId"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		challengeID, err := h.sessions.BeginLogin(r.Context(), req.Email)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		response.OK(w, LoginResponse{ChallengeID: challengeID})
	}
}

// CompleteRequest answers a login challenge
type CompleteRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// Complete handles POST /auth/complete
func (h *AuthHandler) Complete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		user, err := h.sessions.CompleteLogin(r.Context(), req.ChallengeID, req.Code)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		response.OK(w, user)
	}
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.sessions.Logout(r.Context()); err != nil {
			response.InternalError(w, "failed to log out")
			return
		}
		response.NoContent(w)
	}
}

// Me handles GET /auth/me
func (h *AuthHandler) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.sessions.User()
		if !ok {
			response.Unauthorized(w, session.ErrNotAuthenticated.Error())
			return
		}
		response.OK(w, user)
	}
}

func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidEmail), errors.Is(err, session.ErrEmptyCode):
		response.BadRequest(w, err.Error())
	case errors.Is(err, session.ErrUnknownChallenge):
		response.NotFound(w, err.Error())
	default:
		handleUpstreamError(w, err)
	}
}
