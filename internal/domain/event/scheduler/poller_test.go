package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

type fakeRefresher struct {
	mu      sync.Mutex
	counts  []int
	err     error
	loading bool
	calls   int
}

func (f *fakeRefresher) Refresh(ctx context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.counts) == 0 {
		return 0, nil
	}
	n := f.counts[0]
	if len(f.counts) > 1 {
		f.counts = f.counts[1:]
	}
	return n, nil
}

func (f *fakeRefresher) IsLoading(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestPoller(r Refresher) (*Poller, fakeClock) {
	clock := clockwork.NewFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(r, clock, Config{}, logger, nil), clock
}

func waitCalls(t *testing.T, r *fakeRefresher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Calls() == n }, time.Second, 5*time.Millisecond)
}

func TestPoller_FirstTickAfterActiveInterval(t *testing.T) {
	r := &fakeRefresher{counts: []int{2}}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 2)
	defer task.Cancel()

	clock.BlockUntil(1)
	clock.Advance(DefaultActiveInterval - time.Millisecond)
	assert.Zero(t, r.Calls())

	clock.Advance(time.Millisecond)
	waitCalls(t, r, 1)
	assert.Equal(t, "c1", task.ConversationID())
}

func TestPoller_AdaptsIntervalToActivity(t *testing.T) {
	r := &fakeRefresher{counts: []int{3, 3, 4}}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 2)
	defer task.Cancel()

	// 2 -> 3: grew, stay fast
	clock.BlockUntil(1)
	clock.Advance(DefaultActiveInterval)
	waitCalls(t, r, 1)
	clock.BlockUntil(1)
	assert.Equal(t, DefaultActiveInterval, task.Interval())

	// 3 -> 3: quiet, slow down
	clock.Advance(DefaultActiveInterval)
	waitCalls(t, r, 2)
	clock.BlockUntil(1)
	assert.Equal(t, DefaultIdleInterval, task.Interval())

	// idle interval is honoured
	clock.Advance(DefaultActiveInterval)
	assert.Equal(t, 2, r.Calls())

	// 3 -> 4: grew again
	clock.Advance(DefaultIdleInterval - DefaultActiveInterval)
	waitCalls(t, r, 3)
	clock.BlockUntil(1)
	assert.Equal(t, DefaultActiveInterval, task.Interval())
}

func TestPoller_SkipsTickWhileLoading(t *testing.T) {
	r := &fakeRefresher{loading: true}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 0)
	defer task.Cancel()

	clock.BlockUntil(1)
	clock.Advance(DefaultActiveInterval)
	clock.BlockUntil(1)
	assert.Zero(t, r.Calls())
	assert.Equal(t, DefaultActiveInterval, task.Interval())
}

func TestPoller_ErrorFallsBackToIdleInterval(t *testing.T) {
	r := &fakeRefresher{err: errors.New("network down")}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 0)
	defer task.Cancel()

	clock.BlockUntil(1)
	clock.Advance(DefaultActiveInterval)
	waitCalls(t, r, 1)

	clock.BlockUntil(1)
	assert.Equal(t, DefaultIdleInterval, task.Interval())

	clock.Advance(DefaultActiveInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.Calls())

	clock.Advance(DefaultIdleInterval - DefaultActiveInterval)
	waitCalls(t, r, 2)
}

func TestPoller_CancelStopsTicks(t *testing.T) {
	r := &fakeRefresher{counts: []int{1}}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 0)
	clock.BlockUntil(1)

	task.Cancel()
	task.Cancel()

	clock.Advance(10 * DefaultIdleInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.Calls())
}

func TestPoller_CancelAfterTicks(t *testing.T) {
	r := &fakeRefresher{counts: []int{1}}
	p, clock := newTestPoller(r)

	task := p.Start("c1", 0)
	clock.BlockUntil(1)
	clock.Advance(DefaultActiveInterval)
	waitCalls(t, r, 1)
	clock.BlockUntil(1)

	task.Cancel()

	clock.Advance(10 * DefaultIdleInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.Calls())
}
