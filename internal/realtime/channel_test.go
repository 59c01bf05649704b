package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/domain/event/entity"
)

const testToken = "tok"

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

// pushServer is a fake push endpoint recording control frames
type pushServer struct {
	srv    *httptest.Server
	hits   atomic.Int32
	reject atomic.Int32 // upgrades to refuse before accepting
	hold   chan struct{}

	frames chan ControlFrame
	conns  chan *websocket.Conn
	closes chan websocket.StatusCode
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()

	s := &pushServer{
		frames: make(chan ControlFrame, 32),
		conns:  make(chan *websocket.Conn, 8),
		closes: make(chan websocket.StatusCode, 8),
	}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.hold != nil {
			<-s.hold
		}
		if s.reject.Load() > 0 {
			s.reject.Add(-1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("token") != testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		s.conns <- conn

		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				s.closes <- websocket.CloseStatus(err)
				return
			}
			var f ControlFrame
			if json.Unmarshal(data, &f) == nil {
				s.frames <- f
			}
		}
	}))
	t.Cleanup(s.srv.Close)

	return s
}

func (s *pushServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws"
}

func (s *pushServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (s *pushServer) nextFrame(t *testing.T) ControlFrame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no control frame received")
		return ControlFrame{}
	}
}

func (s *pushServer) assertNoFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-s.frames:
		t.Fatalf("unexpected control frame: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func push(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(payload)))
}

func newTestChannel(t *testing.T, url string, cfg Config) (*Channel, fakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg.URL = url
	cfg.Clock = clock
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := New(cfg, logger, nil)
	t.Cleanup(ch.Disconnect)
	return ch, clock
}

func eventFrame(id, conversationID string) string {
	return `{"type":"conversationEvent","data":{"id":"` + id + `","conversationID":"` + conversationID + `",
		"type":"message","actorType":"contact","createdAt":"2024-01-01T00:00:00Z","updatedAt":"2024-01-01T00:00:00Z",
		"message":{"status":"delivered","body":{"type":"text","text":"hi"}}}}`
}

func TestSubscribeWhileDisconnected_ReplayedOnceOnConnect(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	assert.True(t, ch.SubscribeToConversation("A", func(entity.Event) {}))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, []string{"A"}, ch.ActiveSubscriptions())

	require.NoError(t, ch.Connect(context.Background(), testToken))
	assert.True(t, ch.IsConnected())
	assert.Zero(t, ch.Attempts())

	assert.Equal(t, subscribeFrame("A"), srv.nextFrame(t))
	srv.assertNoFrame(t)

	// already connected: no new dial, no replay
	require.NoError(t, ch.Connect(context.Background(), testToken))
	srv.assertNoFrame(t)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestSubscribeWhileConnected_SendsFrame(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	require.NoError(t, ch.Connect(context.Background(), testToken))
	assert.True(t, ch.SubscribeToConversation("c1", func(entity.Event) {}))

	f := srv.nextFrame(t)
	assert.Equal(t, ControlFrame{
		Type:       "subscription",
		Action:     "subscribe",
		Topic:      "conversationEvent",
		ResourceID: "c1",
	}, f)
}

func TestConnect_FailsTwiceThenSucceedsWithBackoff(t *testing.T) {
	srv := newPushServer(t)
	srv.reject.Store(2)
	ch, clock := newTestChannel(t, srv.url(), Config{})

	ch.SubscribeToConversation("A", func(entity.Event) {})

	err := ch.Connect(context.Background(), testToken)
	require.Error(t, err)
	assert.Equal(t, StateReconnecting, ch.State())
	assert.Equal(t, 1, ch.Attempts())

	// registered during the outage
	ch.SubscribeToConversation("B", func(entity.Event) {})

	clock.BlockUntil(1)
	clock.Advance(999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), srv.hits.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return ch.Attempts() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), srv.hits.Load())
	assert.Equal(t, StateReconnecting, ch.State())

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	require.Eventually(t, ch.IsConnected, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), srv.hits.Load())
	assert.Zero(t, ch.Attempts())
	assert.Equal(t, subscribeFrame("A"), srv.nextFrame(t))
	assert.Equal(t, subscribeFrame("B"), srv.nextFrame(t))
	srv.assertNoFrame(t)
}

func TestConnect_InProgress(t *testing.T) {
	srv := newPushServer(t)
	srv.hold = make(chan struct{})
	ch, _ := newTestChannel(t, srv.url(), Config{})

	done := make(chan error, 1)
	go func() { done <- ch.Connect(context.Background(), testToken) }()

	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, ch.State())
	assert.ErrorIs(t, ch.Connect(context.Background(), testToken), ErrConnectInProgress)

	close(srv.hold)
	require.NoError(t, <-done)
	assert.True(t, ch.IsConnected())
}

func TestConnect_RequiresToken(t *testing.T) {
	ch, _ := newTestChannel(t, "ws://127.0.0.1:1/api/v1/ws", Config{})
	assert.ErrorIs(t, ch.Connect(context.Background(), ""), ErrMissingToken)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestPushFramesRoutedByConversation(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	got := make(chan entity.Event, 4)
	ch.SubscribeToConversation("c1", func(ev entity.Event) { got <- ev })

	require.NoError(t, ch.Connect(context.Background(), testToken))
	conn := srv.nextConn(t)
	srv.nextFrame(t)

	push(t, conn, `not json`)
	push(t, conn, `{"type":"typing","data":{}}`)
	push(t, conn, `{"type":"conversationEvent"}`)
	push(t, conn, eventFrame("x1", "c2"))
	push(t, conn, eventFrame("e1", "c1"))

	select {
	case ev := <-got:
		assert.Equal(t, "e1", ev.ID)
		assert.Equal(t, "c1", ev.ConversationID)
		assert.Equal(t, entity.StatusDelivered, ev.Status)
		assert.Equal(t, entity.TextBody{Text: "hi"}, ev.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	assert.Empty(t, got)
	assert.True(t, ch.IsConnected())
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	assert.True(t, ch.UnsubscribeFromConversation("unknown"))

	require.NoError(t, ch.Connect(context.Background(), testToken))
	ch.SubscribeToConversation("c1", func(entity.Event) {})
	srv.nextFrame(t)

	assert.True(t, ch.UnsubscribeFromConversation("c1"))
	assert.True(t, ch.UnsubscribeFromConversation("c1"))

	assert.Equal(t, unsubscribeFrame("c1"), srv.nextFrame(t))
	srv.assertNoFrame(t)
	assert.Empty(t, ch.ActiveSubscriptions())
}

func TestUnsubscribe_WhileDisconnectedDropsRegistration(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	ch.SubscribeToConversation("c1", func(entity.Event) {})
	assert.True(t, ch.UnsubscribeFromConversation("c1"))

	require.NoError(t, ch.Connect(context.Background(), testToken))
	srv.assertNoFrame(t)
}

func TestUnsubscribe_FailedWriteStillDropsRegistration(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	require.NoError(t, ch.Connect(context.Background(), testToken))
	delivered := make(chan entity.Event, 1)
	ch.SubscribeToConversation("c1", func(ev entity.Event) { delivered <- ev })
	srv.nextFrame(t)

	// close the socket under the channel without letting the read loop
	// report it, so the channel still believes it is connected
	ch.mu.Lock()
	conn := ch.conn
	ch.gen++
	ch.mu.Unlock()
	_ = conn.CloseNow()

	assert.False(t, ch.UnsubscribeFromConversation("c1"))
	assert.Empty(t, ch.ActiveSubscriptions())

	_, ok := ch.reg.handler("c1")
	assert.False(t, ok)
	assert.True(t, ch.UnsubscribeFromConversation("c1"))
}

func TestDisconnect_DoesNotReconnect(t *testing.T) {
	srv := newPushServer(t)
	ch, clock := newTestChannel(t, srv.url(), Config{})

	ch.SubscribeToConversation("c1", func(entity.Event) {})
	require.NoError(t, ch.Connect(context.Background(), testToken))
	srv.nextFrame(t)

	ch.Disconnect()

	select {
	case code := <-srv.closes:
		assert.Equal(t, websocket.StatusNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no close")
	}

	assert.Equal(t, StateDisconnected, ch.State())
	assert.Empty(t, ch.ActiveSubscriptions())
	assert.Zero(t, ch.Attempts())

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestAbnormalClose_ReconnectsAndReplays(t *testing.T) {
	srv := newPushServer(t)
	ch, clock := newTestChannel(t, srv.url(), Config{})

	ch.SubscribeToConversation("c1", func(entity.Event) {})
	require.NoError(t, ch.Connect(context.Background(), testToken))
	conn := srv.nextConn(t)
	srv.nextFrame(t)

	require.NoError(t, conn.Close(websocket.StatusInternalError, "boom"))

	require.Eventually(t, func() bool { return ch.State() == StateReconnecting }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ch.Attempts())

	clock.BlockUntil(1)
	clock.Advance(DefaultBaseDelay)
	require.Eventually(t, ch.IsConnected, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, subscribeFrame("c1"), srv.nextFrame(t))
	srv.assertNoFrame(t)
}

func TestServerNormalClose_StaysDisconnected(t *testing.T) {
	srv := newPushServer(t)
	ch, _ := newTestChannel(t, srv.url(), Config{})

	require.NoError(t, ch.Connect(context.Background(), testToken))
	conn := srv.nextConn(t)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool { return ch.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, ch.Attempts())
}

func TestReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := newPushServer(t)
	srv.reject.Store(100)
	ch, clock := newTestChannel(t, srv.url(), Config{MaxAttempts: 2})

	require.Error(t, ch.Connect(context.Background(), testToken))
	assert.Equal(t, 1, ch.Attempts())

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return srv.hits.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return srv.hits.Load() == 3 && ch.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ch.Attempts())

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), srv.hits.Load())

	// an explicit connect starts over
	srv.reject.Store(0)
	require.NoError(t, ch.Connect(context.Background(), testToken))
	assert.True(t, ch.IsConnected())
	assert.Zero(t, ch.Attempts())
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(time.Second, 2))
	assert.Equal(t, 16*time.Second, backoffDelay(time.Second, 5))
	assert.Equal(t, time.Second, backoffDelay(time.Second, 0))
}

func TestURLFromAPIBase(t *testing.T) {
	u, err := URLFromAPIBase("https://api.example.com/api/v1/")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/api/v1/ws", u)

	u, err = URLFromAPIBase("http://localhost:8080/api/v1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/v1/ws", u)

	_, err = URLFromAPIBase("ftp://x")
	assert.Error(t, err)
}

func TestRegistryKeepsOrder(t *testing.T) {
	r := newRegistry()
	r.set("b", nil)
	r.set("a", nil)
	r.set("b", func(entity.Event) {})
	assert.Equal(t, []string{"b", "a"}, r.ids())

	r.remove("b")
	r.remove("missing")
	assert.Equal(t, []string{"a"}, r.ids())
	assert.Equal(t, 1, r.len())
}
