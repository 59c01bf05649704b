package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/vadim/neo-inbox/internal/domain/event/entity"
	"github.com/vadim/neo-inbox/internal/metrics"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxReadBytes        = 1 << 20 // 1MiB
)

// Channel errors
var (
	ErrConnectInProgress = errors.New("connection already in progress")
	ErrConnectAborted    = errors.New("connection aborted by disconnect")
	ErrMissingToken      = errors.New("push token is required")
)

// State is the connection state of the channel
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateReconnecting
)

var allStates = []string{
	StateDisconnected.String(),
	StateConnecting.String(),
	StateConnected.String(),
	StateClosing.String(),
	StateReconnecting.String(),
}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds configuration for the live-update channel
type Config struct {
	URL          string
	BaseDelay    time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Clock        clockwork.Clock
}

// Channel is the push connection. Subscriptions survive reconnects: every
// registered conversation is subscribed again once the connection reopens.
type Channel struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	reg     *registry

	// mu guards the fields below and serializes control frame writes,
	// which keeps the post-connect replay and Subscribe from interleaving
	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	connecting bool
	gen        uint64 // bumped on every new connection and on Disconnect
	attempts   int
	token      string
	retry      clockwork.Timer
}

// New creates a disconnected channel
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Channel {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	c := &Channel{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  logger.With("component", "realtime"),
		metrics: m,
		reg:     newRegistry(),
	}
	c.metrics.ChannelState(StateDisconnected.String(), allStates)
	return c
}

// Connect opens the push connection authenticated with token. It returns nil
// when already connected and ErrConnectInProgress while another attempt is
// dialing. A failed dial schedules an automatic reconnect.
func (c *Channel) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	return c.connect(ctx, token, true)
}

func (c *Channel) connect(ctx context.Context, token string, explicit bool) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	if explicit {
		// a caller-initiated connect supersedes any pending retry
		c.stopRetryLocked()
		c.attempts = 0
	}
	c.connecting = true
	c.token = token
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	wsURL, err := withToken(c.cfg.URL, token)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.connecting = false

	if c.gen != gen {
		// Disconnect ran while dialing
		if conn != nil {
			go conn.Close(websocket.StatusNormalClosure, "Normal closure")
		}
		return ErrConnectAborted
	}

	if err != nil {
		c.logger.Warn("push connection failed", "attempt", c.attempts, "error", err)
		c.scheduleReconnectLocked()
		return fmt.Errorf("dialing push endpoint: %w", err)
	}

	conn.SetReadLimit(maxReadBytes)

	c.gen++
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateConnected)
	c.logger.Info("push connection established")

	for _, id := range c.reg.ids() {
		if err := c.writeLocked(subscribeFrame(id)); err != nil {
			c.logger.Warn("failed to replay subscription", "conversation_id", id, "error", err)
		}
	}

	go c.readLoop(conn, c.gen)
	return nil
}

// SubscribeToConversation registers handler for pushed events of the
// conversation. While disconnected the registration is kept and sent on the
// next successful connect. Returns false only when the subscribe frame could
// not be written; the registration is kept for replay in that case.
func (c *Channel) SubscribeToConversation(conversationID string, handler Handler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reg.set(conversationID, handler)
	c.metrics.Subscriptions(c.reg.len())

	if c.state != StateConnected || c.conn == nil {
		c.logger.Debug("queued subscription", "conversation_id", conversationID)
		return true
	}

	if err := c.writeLocked(subscribeFrame(conversationID)); err != nil {
		c.logger.Warn("failed to subscribe", "conversation_id", conversationID, "error", err)
		return false
	}
	c.logger.Debug("subscribed", "conversation_id", conversationID)
	return true
}

// UnsubscribeFromConversation drops the registration and its handler.
// Unknown ids are a successful no-op. Returns false when the unsubscribe
// frame could not be written; the registration is dropped anyway.
func (c *Channel) UnsubscribeFromConversation(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reg.has(conversationID) {
		return true
	}

	c.reg.remove(conversationID)
	c.metrics.Subscriptions(c.reg.len())

	if c.state == StateConnected && c.conn != nil {
		if err := c.writeLocked(unsubscribeFrame(conversationID)); err != nil {
			c.logger.Warn("failed to send unsubscribe", "conversation_id", conversationID, "error", err)
			return false
		}
	}

	c.logger.Debug("unsubscribed", "conversation_id", conversationID)
	return true
}

// Disconnect closes the connection with a normal closure and forgets every
// subscription. It never triggers a reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	conn := c.conn
	c.conn = nil
	c.connecting = false
	c.attempts = 0
	c.token = ""
	c.stopRetryLocked()
	c.reg.clear()
	c.metrics.Subscriptions(0)
	if conn != nil {
		c.setStateLocked(StateClosing)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Close(websocket.StatusNormalClosure, "Normal closure"); err != nil {
		c.logger.Debug("close handshake incomplete", "error", err)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	c.logger.Info("push connection closed")
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Attempts returns the number of reconnect attempts since the last open
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ActiveSubscriptions returns the registered conversation ids in order
func (c *Channel) ActiveSubscriptions() []string {
	return c.reg.ids()
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.metrics.PushFrame("malformed")
		c.logger.Warn("dropping malformed push frame", "error", err)
		return
	}

	if f.Type != FrameTypeConversationEvent {
		c.metrics.PushFrame("unknown")
		c.logger.Debug("dropping unknown push frame", "type", f.Type)
		return
	}

	var ev entity.Event
	if len(f.Data) == 0 {
		c.metrics.PushFrame("malformed")
		c.logger.Warn("dropping push frame without data")
		return
	}
	if err := json.Unmarshal(f.Data, &ev); err != nil || ev.ConversationID == "" {
		c.metrics.PushFrame("malformed")
		c.logger.Warn("dropping malformed conversation event", "error", err)
		return
	}

	h, ok := c.reg.handler(ev.ConversationID)
	if !ok {
		c.metrics.PushFrame("unmatched")
		c.logger.Debug("no handler for pushed event", "conversation_id", ev.ConversationID)
		return
	}

	c.metrics.PushFrame(FrameTypeConversationEvent)
	h(ev)
}

func (c *Channel) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		// superseded by Disconnect or a newer connection
		return
	}

	c.conn = nil

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.logger.Info("push connection closed by server")
		c.setStateLocked(StateDisconnected)
		return
	}

	c.logger.Warn("push connection lost", "close_status", websocket.CloseStatus(err), "error", err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked must be called with c.mu held
func (c *Channel) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxAttempts {
		c.logger.Error("max reconnection attempts reached", "attempts", c.attempts)
		c.setStateLocked(StateDisconnected)
		return
	}

	c.attempts++
	delay := backoffDelay(c.cfg.BaseDelay, c.attempts)
	gen := c.gen
	token := c.token

	c.setStateLocked(StateReconnecting)
	c.metrics.ReconnectScheduled()
	c.logger.Info("scheduling reconnect", "attempt", c.attempts, "delay", delay)

	c.stopRetryLocked()
	c.retry = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.retry = nil
		c.mu.Unlock()

		if err := c.connect(context.Background(), token, false); err != nil {
			c.logger.Debug("reconnect attempt failed", "error", err)
		}
	})
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// writeLocked must be called with c.mu held
func (c *Channel) writeLocked(f ControlFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding control frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	return c.conn.Write(ctx, websocket.MessageText, b)
}

func (c *Channel) setStateLocked(s State) {
	c.state = s
	c.metrics.ChannelState(s.String(), allStates)
}
