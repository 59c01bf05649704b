package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/vadim/neo-inbox/internal/domain/conversation/entity"
	"github.com/vadim/neo-inbox/internal/httpx/upstream/inbox"
)

// Session errors
var (
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrUnknownChallenge = errors.New("unknown login challenge")
	ErrEmptyCode        = errors.New("login code cannot be empty")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ChangeKind says why the session changed
type ChangeKind string

const (
	ChangeLoggedIn  ChangeKind = "logged_in"
	ChangeRestored  ChangeKind = "restored"
	ChangeLoggedOut ChangeKind = "logged_out"
	ChangeExpired   ChangeKind = "expired"
)

// Change is delivered to listeners. Gen is the session generation the
// change produced; compare it with Generation to spot late deliveries.
type Change struct {
	Kind  ChangeKind
	Gen   uint64
	Token string
	User  entity.User
}

// Listener reacts to session changes
type Listener func(Change)

// AuthAPI defines the login endpoints
type AuthAPI interface {
	Login(ctx context.Context, email string) (*inbox.LoginResponse, error)
	CompleteLogin(ctx context.Context, challengeID, code string) (*inbox.CompleteLoginResponse, error)
}

// Manager owns the signed-in state: it runs the two-step email login,
// persists the credential and tells listeners when it appears or goes away.
type Manager struct {
	api    AuthAPI
	store  Store
	logger *slog.Logger

	mu        sync.RWMutex
	creds     *Credentials
	gen       uint64            // bumped whenever creds are set or dropped
	pending   map[string]string // challenge id -> email
	listeners []Listener
}

// NewManager creates a signed-out manager
func NewManager(api AuthAPI, store Store, logger *slog.Logger) *Manager {
	return &Manager{
		api:     api,
		store:   store,
		logger:  logger.With("component", "session"),
		pending: make(map[string]string),
	}
}

// OnChange registers a listener
func (m *Manager) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// BeginLogin requests an emailed code and returns the challenge id
func (m *Manager) BeginLogin(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}

	resp, err := m.api.Login(ctx, email)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.pending[resp.ChallengeID] = email
	m.mu.Unlock()

	m.logger.Info("login challenge issued", "challenge_id", resp.ChallengeID)
	return resp.ChallengeID, nil
}

// CompleteLogin exchanges the code for a token and persists the session
func (m *Manager) CompleteLogin(ctx context.Context, challengeID, code string) (entity.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return entity.User{}, ErrEmptyCode
	}

	m.mu.RLock()
	email, ok := m.pending[challengeID]
	m.mu.RUnlock()
	if !ok {
		return entity.User{}, ErrUnknownChallenge
	}

	resp, err := m.api.CompleteLogin(ctx, challengeID, code)
	if err != nil {
		return entity.User{}, err
	}

	creds := Credentials{Token: resp.Token, User: entity.User{Email: email}}
	if err := m.store.Save(ctx, creds); err != nil {
		// the session still works for this run
		m.logger.Error("failed to persist session", "error", err)
	}

	m.mu.Lock()
	delete(m.pending, challengeID)
	m.creds = &creds
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("logged in", "email", email)
	m.notify(Change{Kind: ChangeLoggedIn, Gen: gen, Token: creds.Token, User: creds.User})
	return creds.User, nil
}

// Restore loads a persisted session. Reports whether one was found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	creds, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restoring session: %w", err)
	}

	m.mu.Lock()
	m.creds = creds
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("session restored", "email", creds.User.Email)
	m.notify(Change{Kind: ChangeRestored, Gen: gen, Token: creds.Token, User: creds.User})
	return true, nil
}

// Logout forgets the session
func (m *Manager) Logout(ctx context.Context) error {
	gen, ok := m.drop()
	if !ok {
		return nil
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	m.logger.Info("logged out")
	m.notify(Change{Kind: ChangeLoggedOut, Gen: gen})
	return nil
}

// HandleUnauthorized drops the session after the API rejected the token.
// It may be called from inside request paths, so listeners run on their
// own goroutine and can see the change after a newer login.
func (m *Manager) HandleUnauthorized() {
	gen, ok := m.drop()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear expired session", "error", err)
	}

	m.logger.Warn("session expired")
	go m.notify(Change{Kind: ChangeExpired, Gen: gen})
}

// Token returns the bearer token, "" when signed out
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.creds == nil {
		return ""
	}
	return m.creds.Token
}

// User returns the signed-in user
func (m *Manager) User() (entity.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.creds == nil {
		return entity.User{}, false
	}
	return m.creds.User, true
}

// Generation returns the current session generation
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// IsAuthenticated reports whether a token is held
func (m *Manager) IsAuthenticated() bool {
	return m.Token() != ""
}

// drop clears the in-memory session, reporting whether there was one
// and the generation it moved to
func (m *Manager) drop() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creds == nil {
		return m.gen, false
	}
	m.creds = nil
	m.gen++
	return m.gen, true
}

func (m *Manager) notify(c Change) {
	m.mu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
