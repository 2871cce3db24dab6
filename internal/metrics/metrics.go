package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soulseer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_session_transitions_total",
			Help: "Session state transitions by target state and session type",
		},
		[]string{"state", "type"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soulseer_active_sessions",
			Help: "Sessions currently tracked by the accrual watchdog",
		},
	)

	ForcedTerminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soulseer_forced_terminations_total",
			Help: "Sessions ended by the watchdog because the client balance ran out",
		},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_settlements_total",
			Help: "Settlement attempts by outcome (applied, replayed, failed)",
		},
		[]string{"outcome"},
	)

	SettledAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_settled_amount_total",
			Help: "Money moved by settlements, split by leg",
		},
		[]string{"leg"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_webhook_events_total",
			Help: "Gateway webhook deliveries by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	WalletOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_wallet_operations_total",
			Help: "Wallet operations by kind and status",
		},
		[]string{"kind", "status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soulseer_notifications_total",
			Help: "Notifications dispatched by event and status",
		},
		[]string{"event", "status"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordSessionTransition(state, sessionType string) {
	SessionTransitionsTotal.WithLabelValues(state, sessionType).Inc()
}

func RecordForcedTermination() {
	ForcedTerminationsTotal.Inc()
}

func RecordSettlement(outcome string) {
	SettlementsTotal.WithLabelValues(outcome).Inc()
}

// RecordSettledAmounts adds the three legs of an applied settlement.
func RecordSettledAmounts(charged, fee, earnings float64) {
	SettledAmountTotal.WithLabelValues("charged").Add(charged)
	SettledAmountTotal.WithLabelValues("platform_fee").Add(fee)
	SettledAmountTotal.WithLabelValues("reader_earnings").Add(earnings)
}

func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordWalletOperation(kind, status string) {
	WalletOperationsTotal.WithLabelValues(kind, status).Inc()
}

func RecordNotification(event, status string) {
	NotificationsTotal.WithLabelValues(event, status).Inc()
}
