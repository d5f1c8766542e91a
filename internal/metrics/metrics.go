package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg              *prometheus.Registry
	OrdersForwarded  prometheus.Counter
	OrdersDuplicate  prometheus.Counter
	OrdersRejected   prometheus.Counter
	OrdersFailed     prometheus.Counter
	RetryAttempts    prometheus.Counter
	WebhookRequests  prometheus.Counter
	QueueEnqueued    prometheus.Counter
	SubmitLatencySec prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	forwarded := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_orders_forwarded_total"})
	duplicate := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_orders_duplicate_total"})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_orders_rejected_total"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_orders_failed_total"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_retry_attempts_total"})
	webhooks := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_webhook_requests_total"})
	enqueued := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_queue_enqueued_total"})
	submitLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_submit_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(forwarded, duplicate, rejected, failed, retries, webhooks, enqueued, submitLatency)
	return &Registry{
		reg:              r,
		OrdersForwarded:  forwarded,
		OrdersDuplicate:  duplicate,
		OrdersRejected:   rejected,
		OrdersFailed:     failed,
		RetryAttempts:    retries,
		WebhookRequests:  webhooks,
		QueueEnqueued:    enqueued,
		SubmitLatencySec: submitLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
