// Package health contiene los health checks.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	httperrors "github.com/dropDatabas3/hellologin/internal/http/errors"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// Check verifica una dependencia (cache, base de datos).
type Check func(ctx context.Context) error

type Response struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

type Controller struct {
	version string
	checks  map[string]Check
	timeout time.Duration
}

func NewController(version string, checks map[string]Check) *Controller {
	return &Controller{version: version, checks: checks, timeout: 2 * time.Second}
}

// Healthz maneja GET /healthz (liveness).
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	httperrors.WriteJSON(w, http.StatusOK, Response{Status: "ok", Version: c.version})
}

// Readyz maneja GET /readyz. Responde 503 si algún check falla.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := Response{Status: "ready", Version: c.version, Components: map[string]string{}}
	status := http.StatusOK
	for _, name := range names {
		if err := c.checks[name](ctx); err != nil {
			log.Warn("readiness check failed", logger.Component(name), logger.Err(err))
			resp.Components[name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}
	httperrors.WriteJSON(w, status, resp)
}
