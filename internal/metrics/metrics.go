// Package metrics define los collectors de Prometheus del servicio.
//
// Los collectors se crean al cargar el paquete y se registran una sola vez
// con Register; incrementarlos antes de registrar es seguro.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hellologin_http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hellologin_http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	stateOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hellologin_state_operations_total",
		Help: "Operaciones sobre el state store por resultado",
	}, []string{"op", "result"}) // op: issue|check|consume|gc

	loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hellologin_logins_total",
		Help: "Callbacks de autenticación por resultado (ok o código de error)",
	}, []string{"result"})

	tokenExchangeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hellologin_token_exchange_duration_seconds",
		Help:    "Duración del intercambio de código contra el token endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hellologin_events_total",
		Help: "Security events procesados por tipo y status HTTP",
	}, []string{"type", "status"})

	federationSyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hellologin_federation_syncs_total",
		Help: "Sincronizaciones de grupos federados por resultado",
	}, []string{"result"}) // ok|invalid|conflict|error
)

// Register registra todos los collectors en reg (DefaultRegisterer si es nil)
// y retorna el handler para /metrics.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			httpRequestsTotal,
			httpRequestDuration,
			stateOpsTotal,
			loginsTotal,
			tokenExchangeDuration,
			eventsTotal,
			federationSyncsTotal,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	if registerErr != nil {
		return nil, registerErr
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

// ObserveHTTP registra un request terminado.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StateOp registra una operación del state store.
func StateOp(op, result string) {
	stateOpsTotal.WithLabelValues(op, result).Inc()
}

// Login registra el resultado de un callback.
func Login(result string) {
	loginsTotal.WithLabelValues(result).Inc()
}

// TokenExchange registra la duración de un intercambio de código.
func TokenExchange(d time.Duration) {
	tokenExchangeDuration.Observe(d.Seconds())
}

// Event registra un sub-evento despachado.
func Event(eventType string, status int) {
	eventsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
}

// FederationSync registra el resultado de un sync.
func FederationSync(result string) {
	federationSyncsTotal.WithLabelValues(result).Inc()
}
