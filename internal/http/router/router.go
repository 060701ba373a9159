// Package router arma el http.Handler del servicio sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	eventsctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/events"
	healthctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/health"
	loginctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/login"
	httperrors "github.com/dropDatabas3/hellologin/internal/http/errors"
	mw "github.com/dropDatabas3/hellologin/internal/http/middlewares"
	"github.com/dropDatabas3/hellologin/internal/rate"
)

// Deps contiene los controllers y piezas opcionales del router.
type Deps struct {
	Login  *loginctrl.Controller
	Events *eventsctrl.Controller
	Health *healthctrl.Controller
	// Metrics es el handler de promhttp; nil deshabilita /metrics.
	Metrics http.Handler
	// Limiter es opcional; aplica a /start y /event.
	Limiter rate.Limiter
}

// New registra todas las rutas.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithRecover(),
		mw.WithMetrics(),
		mw.WithSecurityHeaders(),
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	limited := mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.Limiter})

	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.With(limited).Get("/start", d.Login.Start)
		r.Get("/callback", d.Login.Callback)
		r.Get("/unlink", d.Login.Unlink)
		r.Get("/unlink-url", d.Login.UnlinkLink)
		r.Get("/quickstart", d.Login.Quickstart)
	})

	// El método lo valida el processor (405 antes que cualquier otra
	// validación), así que /event acepta todos.
	r.With(limited).HandleFunc("/event", d.Events.Receive)

	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	return r
}
