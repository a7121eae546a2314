package metrics

import "github.com/prometheus/client_golang/prometheus"

// Consumer outcomes.
const (
	MessageHandled   = "handled"
	MessageDuplicate = "duplicate"
	MessageSkipped   = "skipped"
	MessageRejected  = "rejected"
	MessageRetried   = "retried"
)

// ConsumerMetrics counts Pub/Sub deliveries per subscriber and outcome.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Pub/Sub deliveries by consumer, event type and outcome.",
	}, []string{"consumer", "event_type", "outcome"})
	reg.MustRegister(messages)
	return &ConsumerMetrics{messages: messages}
}

func (m *ConsumerMetrics) Observe(consumer, eventType, outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
