package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_sessions",
		Help: "Number of live /chat sessions on this instance.",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of users with at least one live session on this instance.",
	})

	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages persisted and fanned out.",
	})

	TranslationUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_translation_updates_total",
		Help: "messageTranslationUpdate emissions from the refinement phase.",
	})

	TranslationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translation_requests_total",
			Help: "Translation provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	TranslationCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translation_cache_total",
			Help: "Translation cache lookups by result.",
		},
		[]string{"result"},
	)

	RefineQueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refine_queue_dropped_total",
		Help: "Refinement tasks dropped because the queue was full.",
	})

	OTPEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_events_total",
			Help: "OTP lifecycle events.",
		},
		[]string{"event"},
	)
)

// MustRegister registers every collector on reg. The service label is applied
// as a constant label through a wrapping registerer.
func MustRegister(reg prometheus.Registerer, serviceName string) {
	prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg).MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		LiveSessions,
		OnlineUsers,
		MessagesSentTotal,
		TranslationUpdatesTotal,
		TranslationRequestsTotal,
		TranslationCacheTotal,
		RefineQueueDroppedTotal,
		OTPEventsTotal,
	)
}
