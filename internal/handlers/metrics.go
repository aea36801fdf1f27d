package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the Prometheus registry on GET /metrics.
type MetricsHandler struct {
	gatherer prometheus.Gatherer
}

func NewMetricsHandler(g prometheus.Gatherer) *MetricsHandler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &MetricsHandler{gatherer: g}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}
