package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the federation server's Prometheus instrumentation:
// ledger append counters, inbox dispatch counters by activity type, and
// delivery retry/drop counters.
type Metrics struct {
	registry *prometheus.Registry

	LedgerClaims      prometheus.Counter
	LedgerCompletions prometheus.Counter
	LedgerConflicts   prometheus.Counter

	InboxAnnounce prometheus.Counter
	InboxCreate   prometheus.Counter
	InboxFollow   prometheus.Counter
	InboxUndo     prometheus.Counter
	InboxIgnored  prometheus.Counter

	DeliveryRetries prometheus.Counter
	DeliveryDropped prometheus.Counter
}

// NewMetrics constructs and registers the server's metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LedgerClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_ledger_claims_total",
			Help: "Total number of claims accepted by the ledger, including idempotent same-agent re-claims.",
		}),
		LedgerCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_ledger_completions_total",
			Help: "Total number of completions accepted by the ledger, including idempotent repeats.",
		}),
		LedgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_ledger_conflicts_total",
			Help: "Total number of claim attempts rejected with a conflict.",
		}),
		InboxAnnounce: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_inbox_announce_total",
			Help: "Total number of Announce activities processed.",
		}),
		InboxCreate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_inbox_create_total",
			Help: "Total number of Create (completion) activities processed.",
		}),
		InboxFollow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_inbox_follow_total",
			Help: "Total number of Follow activities processed.",
		}),
		InboxUndo: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_inbox_undo_total",
			Help: "Total number of Undo activities processed.",
		}),
		InboxIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_inbox_ignored_total",
			Help: "Total number of inbox activities accepted and ignored (unrecognized type, non-completion Create, or Undo of something other than Follow).",
		}),
		DeliveryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_delivery_retries_total",
			Help: "Total number of outbound delivery retry attempts.",
		}),
		DeliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quasi_board_delivery_dropped_total",
			Help: "Total number of outbound deliveries dropped permanently.",
		}),
	}
	reg.MustRegister(
		m.LedgerClaims, m.LedgerCompletions, m.LedgerConflicts,
		m.InboxAnnounce, m.InboxCreate, m.InboxFollow, m.InboxUndo, m.InboxIgnored,
		m.DeliveryRetries, m.DeliveryDropped,
	)
	return m
}

// Handler returns the HTTP handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
