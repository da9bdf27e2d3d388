package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"

	MessageWritten     = "written"
	MessageDecodeError = "decode_error"
	MessageSinkError   = "sink_error"

	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// BridgeMetrics holds the collectors for every unit of the bridge worker.
// A nil *BridgeMetrics is valid and records nothing.
type BridgeMetrics struct {
	changeEvents      *prometheus.CounterVec
	changeDecodeFails prometheus.Counter
	queueDepth        prometheus.Gauge
	queueDrops        prometheus.Counter
	subscriptionOps   *prometheus.CounterVec
	messages          *prometheus.CounterVec
	sinkLatency       prometheus.Histogram
	brokerConnErrors  prometheus.Counter
	bootstrapRuns     *prometheus.CounterVec
	bootstrapSubs     prometheus.Counter
}

// NewBridgeMetrics creates the collectors and registers them on registerer.
// Falls back to prometheus.DefaultRegisterer when registerer is nil.
func NewBridgeMetrics(registerer prometheus.Registerer) *BridgeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &BridgeMetrics{
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_bridge_change_events_total",
			Help: "Subscription change events received from the change feed, by action.",
		}, []string{"action"}),
		changeDecodeFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_bridge_change_event_decode_failures_total",
			Help: "Change feed notifications that could not be decoded.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hive_bridge_change_queue_depth",
			Help: "Change events waiting for the reconciler.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_bridge_change_queue_drops_total",
			Help: "Change events dropped because the queue was full.",
		}),
		subscriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_bridge_subscription_ops_total",
			Help: "Broker subscribe and unsubscribe calls, by op and result.",
		}, []string{"op", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_bridge_inbound_messages_total",
			Help: "Inbound broker publishes, by outcome.",
		}, []string{"result"}),
		sinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hive_bridge_sink_write_duration_seconds",
			Help:    "Latency of single-point writes to the time-series sink.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		brokerConnErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_bridge_broker_connection_errors_total",
			Help: "Poll-level broker connection errors.",
		}),
		bootstrapRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hive_bridge_bootstrap_runs_total",
			Help: "Bootstrap passes, by result.",
		}, []string{"result"}),
		bootstrapSubs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_bridge_bootstrap_subscriptions_total",
			Help: "Subscribe calls issued by bootstrap passes.",
		}),
	}

	registerer.MustRegister(
		m.changeEvents,
		m.changeDecodeFails,
		m.queueDepth,
		m.queueDrops,
		m.subscriptionOps,
		m.messages,
		m.sinkLatency,
		m.brokerConnErrors,
		m.bootstrapRuns,
		m.bootstrapSubs,
	)
	return m
}

func (m *BridgeMetrics) ObserveChangeEvent(action string) {
	if m == nil {
		return
	}
	m.changeEvents.WithLabelValues(action).Inc()
}

func (m *BridgeMetrics) IncChangeDecodeFailure() {
	if m == nil {
		return
	}
	m.changeDecodeFails.Inc()
}

func (m *BridgeMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *BridgeMetrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

// ObserveSubscriptionOp records one subscribe or unsubscribe outcome.
func (m *BridgeMetrics) ObserveSubscriptionOp(op string, err error) {
	if m == nil {
		return
	}
	m.subscriptionOps.WithLabelValues(op, resultOf(err)).Inc()
}

func (m *BridgeMetrics) ObserveMessage(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

func (m *BridgeMetrics) ObserveSinkWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.sinkLatency.Observe(d.Seconds())
}

func (m *BridgeMetrics) IncBrokerConnectionError() {
	if m == nil {
		return
	}
	m.brokerConnErrors.Inc()
}

// ObserveBootstrap records a pass. A query failure counts as an error run.
func (m *BridgeMetrics) ObserveBootstrap(queryErr error, subscribed int) {
	if m == nil {
		return
	}
	m.bootstrapRuns.WithLabelValues(resultOf(queryErr)).Inc()
	m.bootstrapSubs.Add(float64(subscribed))
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
