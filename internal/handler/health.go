package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"geoserver-relay/internal/allowlist"
	"geoserver-relay/internal/session"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	validator *allowlist.Validator
	registry  *session.Registry
	version   Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(v *allowlist.Validator, r *session.Registry, version Version) *HealthHandler {
	return &HealthHandler{validator: v, registry: r, version: version}
}

// Up returns a fixed response for liveness checks.
func (h *HealthHandler) Up(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "up",
	})
}

type statusResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	AllowedHosts []string `json:"allowedHosts"`
	Sessions     int      `json:"sessions"`
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:       "up",
		Version:      string(h.version),
		AllowedHosts: h.validator.Hosts(),
		Sessions:     h.registry.Len(),
	})
}
