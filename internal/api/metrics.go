package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webhookDeliveries counts lead-alert delivery attempts by outcome, fed
// by webhooks.Service's MetricsRecorder callback.
var webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "surplustrust_webhook_deliveries_total",
	Help: "Lead-alert webhook delivery attempts, by outcome.",
}, []string{"outcome"})

// RecordWebhookDelivery adapts webhooks.MetricsRecorder's bool signature
// to the labeled counter.
func RecordWebhookDelivery(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	webhookDeliveries.WithLabelValues(outcome).Inc()
}

// registerMetrics mounts the Prometheus scrape endpoint at /metrics,
// unauthenticated like /health.
func registerMetrics(r gin.IRouter) {
	handler := promhttp.Handler()
	r.GET("/metrics", gin.WrapH(handler))
}
