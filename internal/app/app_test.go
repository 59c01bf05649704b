package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/config"
	"github.com/vadim/neo-inbox/internal/domain/event/entity"
	"github.com/vadim/neo-inbox/internal/realtime"
	"github.com/vadim/neo-inbox/internal/session"
)

// inboxServer fakes the REST API and the push endpoint on one listener
type inboxServer struct {
	mu     sync.Mutex
	events map[string][]entity.Event
}

func newInboxServer(t *testing.T) *httptest.Server {
	s := &inboxServer{
		events: map[string][]entity.Event{
			"c1": {{
				ID:             "e1",
				ConversationID: "c1",
				Type:           entity.EventTypeMessage,
				ActorType:      entity.ActorTypeContact,
				Status:         entity.StatusDelivered,
				Body:           entity.TextBody{Text: "hello"},
				CreatedAt:      time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
			}},
		},
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"challengeID": "ch1"})
		})
		r.Post("/auth/complete", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"token": "jwt-1"})
		})
		r.Get("/conversations/{id}/events", s.listEvents)
		r.Get("/ws", s.push)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func (s *inboxServer) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer jwt-1" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	id := chi.URLParam(r, "id")
	if id == "expired" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
		return
	}

	s.mu.Lock()
	events := append([]entity.Event(nil), s.events[id]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// push answers the first subscribe for c1 with a new inbound message
func (s *inboxServer) push(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != "jwt-1" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	pushed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var f realtime.ControlFrame
		if json.Unmarshal(data, &f) != nil || f.Action != realtime.ActionSubscribe || f.ResourceID != "c1" || pushed {
			continue
		}
		pushed = true

		ev := entity.Event{
			ID:             "e2",
			ConversationID: "c1",
			Type:           entity.EventTypeMessage,
			ActorType:      entity.ActorTypeContact,
			Status:         entity.StatusDelivered,
			Body:           entity.TextBody{Text: "are you there?"},
			CreatedAt:      time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC),
		}
		s.mu.Lock()
		s.events["c1"] = append(s.events["c1"], ev)
		s.mu.Unlock()

		frame, _ := json.Marshal(map[string]any{"type": realtime.FrameTypeConversationEvent, "data": ev})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(t *testing.T, apiBase string) config.Config {
	return config.Config{
		Log:    config.Log{Level: "error"},
		Server: config.Server{Host: "127.0.0.1", Port: "0"},
		API:    config.API{BaseURL: apiBase, Timeout: 5 * time.Second},
		Realtime: config.Realtime{
			BaseDelay:    100 * time.Millisecond,
			MaxAttempts:  3,
			DialTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Sync: config.Sync{
			ActiveInterval: 200 * time.Millisecond,
			IdleInterval:   400 * time.Millisecond,
			TickTimeout:    5 * time.Second,
			CacheExpiry:    5 * time.Minute,
		},
		Session: config.Session{
			Backend: config.SessionBackendFile,
			Path:    filepath.Join(t.TempDir(), "session.json"),
		},
	}
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func realtimeState(h http.Handler) string {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/realtime", nil))
	var st struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	return st.State
}

func eventIDs(rec *httptest.ResponseRecorder) []string {
	var view struct {
		Events []entity.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		return nil
	}
	ids := make([]string, len(view.Events))
	for i, ev := range view.Events {
		ids[i] = ev.ID
	}
	return ids
}

func TestApp_LoginSyncAndPush(t *testing.T) {
	srv := newInboxServer(t)

	a, err := NewApp(context.Background(), testConfig(t, srv.URL+"/api/v1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	h := a.Handler()

	rec := call(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = call(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challengeId":"ch1"}`, rec.Body.String())

	rec = call(t, h, http.MethodPost, "/api/v1/auth/complete", map[string]string{"challengeId": "ch1", "code": "123456"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return realtimeState(h) == "connected"
	}, 5*time.Second, 20*time.Millisecond)

	rec = call(t, h, http.MethodGet, "/api/v1/conversations/c1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"e1"}, eventIDs(rec))

	// the subscribe frame makes the server push e2
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1/events", nil))
		return assert.ObjectsAreEqual([]string{"e1", "e2"}, eventIDs(rec))
	}, 5*time.Second, 20*time.Millisecond)

	rec = call(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inbox_event_fetches_total")
}

func TestApp_ExpiredSessionTearsDown(t *testing.T) {
	srv := newInboxServer(t)

	a, err := NewApp(context.Background(), testConfig(t, srv.URL+"/api/v1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	h := a.Handler()

	call(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com"})
	call(t, h, http.MethodPost, "/api/v1/auth/complete", map[string]string{"challengeId": "ch1", "code": "1"})
	require.Eventually(t, func() bool {
		return realtimeState(h) == "connected"
	}, 5*time.Second, 20*time.Millisecond)

	rec := call(t, h, http.MethodGet, "/api/v1/conversations/expired/events", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Eventually(t, func() bool {
		return realtimeState(h) == "disconnected"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApp_StaleExpiryKeepsNewSession(t *testing.T) {
	srv := newInboxServer(t)

	a, err := NewApp(context.Background(), testConfig(t, srv.URL+"/api/v1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	h := a.Handler()

	call(t, h, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com"})
	call(t, h, http.MethodPost, "/api/v1/auth/complete", map[string]string{"challengeId": "ch1", "code": "1"})
	require.Eventually(t, func() bool {
		return realtimeState(h) == "connected"
	}, 5*time.Second, 20*time.Millisecond)

	rec := call(t, h, http.MethodGet, "/api/v1/conversations/c1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// an expiry from the previous session arriving late
	a.onSessionChange(session.Change{Kind: session.ChangeExpired, Gen: a.sessions.Generation() - 1})

	assert.Equal(t, "connected", realtimeState(h))
	assert.True(t, a.sessions.IsAuthenticated())
	rec = call(t, h, http.MethodGet, "/api/v1/conversations/c1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, eventIDs(rec), "e1")

	// a current one still tears down
	a.onSessionChange(session.Change{Kind: session.ChangeExpired, Gen: a.sessions.Generation()})
	require.Eventually(t, func() bool {
		return realtimeState(h) == "disconnected"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApp_RestoresStoredSession(t *testing.T) {
	srv := newInboxServer(t)
	cfg := testConfig(t, srv.URL+"/api/v1")

	first, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	call(t, first.Handler(), http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com"})
	rec := call(t, first.Handler(), http.MethodPost, "/api/v1/auth/complete", map[string]string{"challengeId": "ch1", "code": "1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, first.Shutdown(context.Background()))

	second, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Shutdown(context.Background()) })

	found, err := second.Sessions().Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "jwt-1", second.Sessions().Token())

	rec = call(t, second.Handler(), http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ann@example.com")
}
