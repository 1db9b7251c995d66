package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webveil/internal/config"
	"webveil/internal/cookie"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	jar     *cookie.Jar
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, jar *cookie.Jar, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, jar: jar, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"prefix":  h.cfg.Proxy.Prefix,
		"codec":   h.cfg.Proxy.Codec,
		"cookies": h.jar.Len(),
	})
}
