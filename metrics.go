package coap

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics counts protocol events. Collectors are exposed through
// Server.Collectors for hosts that register them; nothing in the runtime
// depends on a registry being present.
type serverMetrics struct {
	retransmits   prometheus.Counter
	timeouts      prometheus.Counter
	dedupHits     prometheus.Counter
	notifySent    prometheus.Counter
	notifyFailed  prometheus.Counter
	resetsSent    prometheus.Counter
	requestsSeen  prometheus.Counter
	responsesSeen prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap",
			Name:      name,
			Help:      help,
		})
	}
	return &serverMetrics{
		retransmits:   counter("retransmits_total", "Confirmable message retransmissions."),
		timeouts:      counter("transaction_timeouts_total", "Transactions failed after exhausting retransmits."),
		dedupHits:     counter("duplicate_hits_total", "Inbound messages suppressed by the duplicate detector."),
		notifySent:    counter("notifications_sent_total", "Observe notifications handed to the transport."),
		notifyFailed:  counter("notifications_failed_total", "Observe notifications skipped or failed."),
		resetsSent:    counter("resets_sent_total", "Reset messages sent."),
		requestsSeen:  counter("requests_total", "Inbound requests dispatched to handlers."),
		responsesSeen: counter("responses_total", "Inbound responses matched to transactions."),
	}
}

// Collectors returns the prometheus collectors for this endpoint.
func (s *Server) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.metrics.retransmits,
		s.metrics.timeouts,
		s.metrics.dedupHits,
		s.metrics.notifySent,
		s.metrics.notifyFailed,
		s.metrics.resetsSent,
		s.metrics.requestsSeen,
		s.metrics.responsesSeen,
	}
}
