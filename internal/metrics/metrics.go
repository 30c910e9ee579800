// Package metrics 定义消息层的prometheus指标.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Messages written to the transport, by type.",
		},
		[]string{"type"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages read from the transport, by type.",
		},
		[]string{"type"},
	)
	malformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "messages",
			Name:      "malformed_total",
			Help:      "Datagrams rejected by the decoder.",
		},
	)
	duplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "messages",
			Name:      "duplicates_total",
			Help:      "Duplicate CON/NON messages, by verdict.",
		},
		[]string{"verdict"},
	)
	retransmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "transactions",
			Name:      "retransmissions_total",
			Help:      "Confirmable retransmissions.",
		},
	)
	timeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coap",
			Subsystem: "transactions",
			Name:      "timeouts_total",
			Help:      "Transactions ended in TimedOut.",
		},
	)
	rtt = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coap",
			Subsystem: "transactions",
			Name:      "rtt_seconds",
			Help:      "Time from first transmission to matched response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)
	observers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coap",
			Subsystem: "observe",
			Name:      "observers",
			Help:      "Registered observation relationships.",
		},
	)
)

// Collectors 返回全部指标, 供自定义Registry注册.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		messagesSent, messagesReceived, malformed, duplicates,
		retransmissions, timeouts, rtt, observers,
	}
}

// RegisterMetrics 将指标注册到默认Registry, 可重复调用.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

func RecordSent(typ string) {
	messagesSent.WithLabelValues(typ).Inc()
}

func RecordReceived(typ string) {
	messagesReceived.WithLabelValues(typ).Inc()
}

func RecordMalformed() {
	malformed.Inc()
}

func RecordDuplicate(verdict string) {
	duplicates.WithLabelValues(verdict).Inc()
}

func RecordRetransmit() {
	retransmissions.Inc()
}

func RecordTimeout() {
	timeouts.Inc()
}

func RecordRTT(d time.Duration) {
	rtt.Observe(d.Seconds())
}

func AddObservers(n int) {
	observers.Add(float64(n))
}
