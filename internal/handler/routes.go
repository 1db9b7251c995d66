package handler

import (
	"github.com/labstack/echo/v4"

	"webveil/internal/config"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	// Client runtime assets injected into rewritten documents.
	e.Static("/wv", cfg.Scripts.Dir)

	// Everything under the prefix is an encoded destination.
	e.Any(cfg.Proxy.Prefix+"*", proxy.Handle)
}
