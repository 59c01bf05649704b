package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vadim/neo-inbox/internal/metrics"
)

// Default polling cadence
const (
	DefaultActiveInterval = 500 * time.Millisecond
	DefaultIdleInterval   = time.Second
	DefaultTickTimeout    = 10 * time.Second
)

// Refresher performs one forced refresh of a conversation
type Refresher interface {
	// Refresh reloads the conversation and returns the resulting event count
	Refresh(ctx context.Context, conversationID string) (int, error)
	IsLoading(conversationID string) bool
}

// Config holds configuration for the poller
type Config struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	TickTimeout    time.Duration
}

// Poller starts poll tasks for open conversations
type Poller struct {
	refresher Refresher
	clock     clockwork.Clock
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a new poller
func New(refresher Refresher, clock clockwork.Clock, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Poller {
	if cfg.ActiveInterval == 0 {
		cfg.ActiveInterval = DefaultActiveInterval
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.TickTimeout == 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Poller{
		refresher: refresher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With("component", "poller"),
		metrics:   m,
	}
}

// Task is the handle of one conversation's polling loop.
// The owner must call Cancel when the conversation is closed or switched.
type Task struct {
	p              *Poller
	conversationID string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	timer     clockwork.Timer
	interval  time.Duration
	lastCount int
	cancelled bool
	wg        sync.WaitGroup
}

// Start schedules the first tick after the active interval.
// knownCount is the event count already on screen.
func (p *Poller) Start(conversationID string, knownCount int) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		p:              p,
		conversationID: conversationID,
		ctx:            ctx,
		cancel:         cancel,
		interval:       p.cfg.ActiveInterval,
		lastCount:      knownCount,
	}

	t.mu.Lock()
	t.scheduleLocked(p.cfg.ActiveInterval)
	t.mu.Unlock()

	p.logger.Debug("poll task started", "conversation_id", conversationID)
	return t
}

// ConversationID returns the conversation this task polls
func (t *Task) ConversationID() string {
	return t.conversationID
}

// Interval returns the delay of the next scheduled tick
func (t *Task) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Cancel stops the task. A cancelled task never fires again and any
// in-flight refresh is aborted. Safe to call more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	// a stopped timer never runs its callback, so release its slot here
	if t.timer != nil && t.timer.Stop() {
		t.wg.Done()
	}
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.p.logger.Debug("poll task cancelled", "conversation_id", t.conversationID)
}

// scheduleLocked must be called with t.mu held
func (t *Task) scheduleLocked(d time.Duration) {
	if t.cancelled {
		return
	}
	t.interval = d
	t.wg.Add(1)
	t.timer = t.p.clock.AfterFunc(d, func() {
		defer t.wg.Done()
		t.tick()
	})
}

func (t *Task) tick() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	interval := t.interval
	t.mu.Unlock()

	if t.p.refresher.IsLoading(t.conversationID) {
		t.p.metrics.PollTick(metrics.OutcomeSkipped)
		t.reschedule(interval)
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.p.cfg.TickTimeout)
	count, err := t.p.refresher.Refresh(ctx, t.conversationID)
	cancel()

	if err != nil {
		if t.ctx.Err() == nil {
			t.p.logger.Warn("poll refresh failed",
				"conversation_id", t.conversationID,
				"error", err,
			)
		}
		t.p.metrics.PollTick(metrics.OutcomeError)
		t.reschedule(t.p.cfg.IdleInterval)
		return
	}

	t.p.metrics.PollTick(metrics.OutcomeOK)

	t.mu.Lock()
	next := t.p.cfg.IdleInterval
	if count > t.lastCount {
		next = t.p.cfg.ActiveInterval
	}
	t.lastCount = count
	t.scheduleLocked(next)
	t.mu.Unlock()
}

func (t *Task) reschedule(d time.Duration) {
	t.mu.Lock()
	t.scheduleLocked(d)
	t.mu.Unlock()
}
