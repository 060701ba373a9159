package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellologin/internal/events"
	"github.com/dropDatabas3/hellologin/internal/federation"
	eventsctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/events"
	healthctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/health"
	loginctrl "github.com/dropDatabas3/hellologin/internal/http/controllers/login"
	svc "github.com/dropDatabas3/hellologin/internal/login"
	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/rate"
	"github.com/dropDatabas3/hellologin/internal/users"
)

const clientID = "4c1ec93b-2714-4d72-9582-b09c515c5bd8"

// los collectors se registran una sola vez por proceso
var registry = prometheus.NewRegistry()

type stubLogin struct{}

func (stubLogin) StartAuth(context.Context, string, string) (string, error) {
	return "https://wallet.hello.coop/authorize?state=s", nil
}
func (stubLogin) Callback(http.ResponseWriter, *http.Request) (string, error) {
	return "https://site.example/", nil
}
func (stubLogin) ErrorLocation(context.Context, error) string { return "/login" }
func (stubLogin) Unlink(*http.Request) string                 { return "/profile?msg=unlink_success" }
func (stubLogin) UnlinkURL(*http.Request, string) (string, error) {
	return "", svc.ErrUnlinkNotAllowed
}
func (stubLogin) Quickstart(context.Context, string) string {
	return "/settings?msg=quickstart_success"
}

func newServer(t *testing.T, perMinute int) *httptest.Server {
	t.Helper()
	reg := federation.NewRegistry(federation.NewMemoryStore())
	proc := events.NewProcessor(events.Deps{
		Settings: func() events.Settings {
			return events.Settings{ClientID: clientID, EndpointLogin: "https://wallet.hello.coop/authorize"}
		},
		Users:      users.NewService(users.ServiceDeps{Directory: users.NewMemoryDirectory()}),
		Federation: reg,
	})
	metricsHandler, err := metrics.Register(registry)
	require.NoError(t, err)

	h := New(Deps{
		Login:   loginctrl.NewController(stubLogin{}),
		Events:  eventsctrl.NewController(proc),
		Health:  healthctrl.NewController("test", nil),
		Metrics: metricsHandler,
		Limiter: rate.NewMemoryLimiter(perMinute, time.Minute),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func setBody(t *testing.T, ev map[string]any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"iss": "https://issuer.hello.coop", "aud": clientID, "events": ev,
	})
	require.NoError(t, err)
	return "h." + base64.RawURLEncoding.EncodeToString(b) + ".s"
}

func postEvent(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/event", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", events.ContentTypeSET)
	req.Header.Set("Accept", events.AcceptJSON)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_LoginRoutesRedirect(t *testing.T) {
	srv := newServer(t, 100)
	c := noRedirect()

	for path, want := range map[string]string{
		"/start":      "https://wallet.hello.coop/authorize?state=s",
		"/callback":   "https://site.example/",
		"/unlink":     "/profile?msg=unlink_success",
		"/quickstart": "/settings?msg=quickstart_success",
	} {
		resp, err := c.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusFound, resp.StatusCode, path)
		assert.Equal(t, want, resp.Header.Get("Location"), path)
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"), path)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"), path)
	}
}

func TestRouter_UnlinkURLWithoutSession(t *testing.T) {
	srv := newServer(t, 100)
	resp, err := http.Get(srv.URL + "/unlink-url")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestRouter_StartIsRateLimited(t *testing.T) {
	srv := newServer(t, 2)
	c := noRedirect()

	var last int
	for i := 0; i < 3; i++ {
		resp, err := c.Get(srv.URL + "/start")
		require.NoError(t, err)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouter_Event(t *testing.T) {
	srv := newServer(t, 100)

	resp := postEvent(t, srv, setBody(t, map[string]any{
		events.FederationGroupsSync: map[string]any{
			"org":    "acme.example",
			"groups": []any{map[string]any{"value": "g1", "display": "Admins"}},
		},
	}))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = postEvent(t, srv, "not-a-jwt")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(srv.URL + "/event")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newServer(t, 100)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `hellologin_http_requests_total{method="GET",route="/healthz",status="200"}`)
}
