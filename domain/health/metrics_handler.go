package health

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the process's Prometheus collectors (pkg/metrics:
// work-lock contention, wake guardrail decisions, reconciler lag/retries,
// webhook ingest latency) for scraping.
type MetricsHandler struct {
	handler echo.HandlerFunc
}

// NewMetricsHandler wraps promhttp's handler for use as an echo route.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{handler: echo.WrapHandler(promhttp.Handler())}
}

// Metrics serves the Prometheus exposition format at /metrics.
func (h *MetricsHandler) Metrics(c echo.Context) error {
	return h.handler(c)
}
