package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FetchDone(OutcomeOK, 0.1)
		m.PollTick(OutcomeSkipped)
		m.PushFrame("conversationEvent")
		m.ReconnectScheduled()
		m.ChannelState("connected", []string{"connected"})
		m.Subscriptions(1)
		m.CachedConversations(1)
		m.MessageSent("text", OutcomeOK)
	})
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchDone(OutcomeOK, 0.2)
	m.FetchDone(OutcomeOK, 0.1)
	m.FetchDone(OutcomeError, 0)
	m.ReconnectScheduled()
	m.ChannelState("connected", []string{"disconnected", "connected"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues(OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.channelState.WithLabelValues("disconnected")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
