package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webproxy-go/internal/config"
	"webproxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// forwarding handler is mounted at the configured mount path for every
// method, on the mount path itself and on everything beneath it.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	mount := cfg.Proxy.MountPath
	e.Any(mount, proxy.Handle)
	e.Any(mount+"/*", proxy.Handle)
}
