package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal 按路由模板与状态码统计 API 请求数。
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preptracker_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preptracker_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// ReminderScannedTotal 统计提醒调度扫描到的到期任务数。
	ReminderScannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_reminder_scanned_total",
		Help: "Due tasks found by the reminder scan",
	})

	ReminderPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_reminder_published_total",
		Help: "Reminder messages published to the stream",
	})

	ReminderDuplicatePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_reminder_duplicate_prevented_total",
		Help: "Reminders skipped because one was already queued for the same task and due date",
	})

	// ReminderSentTotal 按结果（sent / skipped / deferred / failed）统计提醒投递。
	ReminderSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preptracker_reminder_sent_total",
		Help: "Reminder deliveries by result",
	}, []string{"result"})

	TaskAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_stream_autoclaim_total",
		Help: "Stream messages reclaimed from idle consumers",
	})

	TaskDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_stream_dlq_total",
		Help: "Stream messages moved to the dead letter stream",
	})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preptracker_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preptracker_ratelimit_timeout_total",
		Help: "Rate limit waits abandoned because the context ended",
	})

	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preptracker_ratelimit_rejected_total",
		Help: "Requests rejected by the HTTP rate limiter",
	}, []string{"route"})

	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preptracker_worker_pool_size",
		Help: "Configured number of reminder workers",
	})

	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preptracker_worker_queue_depth",
		Help: "Jobs waiting in the in-memory worker queue",
	})
)

// ObserveHTTPRequest 记录一次 HTTP 请求指标。
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
