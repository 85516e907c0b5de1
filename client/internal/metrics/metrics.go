package metrics

import (
	"feedsync/client/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总同步层的可观测指标。
// 所有方法对 nil 接收者安全，组件可以不注入指标。
type Metrics struct {
	fetches       *prometheus.CounterVec
	staleDiscards *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	connState     *prometheus.GaugeVec
	reconnects    *prometheus.CounterVec
}

// New 创建指标并注册到 reg；reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedsync",
			Name:      "fetches_total",
			Help:      "Remote fetches by collection and result.",
		}, []string{"collection", "result"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedsync",
			Name:      "stale_discards_total",
			Help:      "Fetch results dropped because the identity changed while in flight.",
		}, []string{"collection"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedsync",
			Name:      "mutations_total",
			Help:      "Mutations submitted to the remote service by kind and result.",
		}, []string{"kind", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedsync",
			Name:      "notifications_total",
			Help:      "Routed push notifications by action.",
		}, []string{"action"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feedsync",
			Name:      "connection_state",
			Help:      "1 for the current push channel state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.staleDiscards, m.mutations, m.notifications, m.connState, m.reconnects)
	}
	m.SetConnectionState(model.StateDisconnected)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveFetch(collection string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(collection, result(err)).Inc()
}

func (m *Metrics) ObserveStale(collection string) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(collection).Inc()
}

func (m *Metrics) ObserveMutation(kind string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveNotification(action string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveReconnect(err error) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result(err)).Inc()
}

var allStates = []model.ConnectionState{
	model.StateDisconnected,
	model.StateConnecting,
	model.StateConnected,
	model.StateErrored,
}

func (m *Metrics) SetConnectionState(state model.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(string(s)).Set(v)
	}
}
