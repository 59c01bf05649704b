package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inbox"

// Fetch and poll outcomes
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
	OutcomeCached  = "cached"
	OutcomeSkipped = "skipped"
)

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
type Metrics struct {
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	pollTicks      *prometheus.CounterVec
	pushFrames     *prometheus.CounterVec
	reconnects     prometheus.Counter
	channelState   *prometheus.GaugeVec
	subscriptions  prometheus.Gauge
	cachedConvs    prometheus.Gauge
	optimisticSent *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_fetches_total",
			Help:      "Event history loads by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_fetch_duration_seconds",
			Help:      "Duration of event history requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll task ticks by outcome.",
		}, []string{"outcome"}),
		pushFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_frames_total",
			Help:      "Inbound live-update frames by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled live-update reconnect attempts.",
		}),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "1 for the current live-update channel state, 0 otherwise.",
		}, []string{"state"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Registered conversation subscriptions.",
		}),
		cachedConvs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_conversations",
			Help:      "Conversations held in the event cache.",
		}),
		optimisticSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outgoing messages by body kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.fetches,
			m.fetchDuration,
			m.pollTicks,
			m.pushFrames,
			m.reconnects,
			m.channelState,
			m.subscriptions,
			m.cachedConvs,
			m.optimisticSent,
		)
	}

	return m
}

func (m *Metrics) FetchDone(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.fetchDuration.Observe(seconds)
	}
}

func (m *Metrics) PollTick(outcome string) {
	if m == nil {
		return
	}
	m.pollTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PushFrame(kind string) {
	if m == nil {
		return
	}
	m.pushFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ChannelState marks state as current and every other known state as 0
func (m *Metrics) ChannelState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.channelState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Subscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) CachedConversations(n int) {
	if m == nil {
		return
	}
	m.cachedConvs.Set(float64(n))
}

func (m *Metrics) MessageSent(kind, outcome string) {
	if m == nil {
		return
	}
	m.optimisticSent.WithLabelValues(kind, outcome).Inc()
}
