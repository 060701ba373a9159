// Package oidc implementa el cliente Authorization Code + PKCE contra el
// Provider: construcción del authorization URL, validación del callback,
// intercambio del código y decodificación del ID token.
//
// La firma del ID token no se verifica salvo que se configure un Verifier.
package oidc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
	"github.com/dropDatabas3/hellologin/internal/pkce"
	"github.com/dropDatabas3/hellologin/internal/state"
)

// Config es la vista de configuración que usa el cliente.
type Config struct {
	ClientID       string
	EndpointLogin  string
	EndpointToken  string
	RedirectURI    string
	SiteURL        string
	Scope          string
	ProviderHint   string
	AcrValues      string
	RequestTimeout time.Duration
}

// LoginPolicy decide si un claim válido puede iniciar sesión.
type LoginPolicy func(ctx context.Context, claims Claims) bool

// Deps agrupa las dependencias del cliente.
type Deps struct {
	// Settings retorna la configuración vigente (puede cambiar en runtime,
	// por ejemplo el client_id vía quickstart).
	Settings func() Config
	State    *state.Store
	PKCE     *pkce.Generator
	HTTP     *http.Client
	// Verifier es opcional.
	Verifier *Verifier
	// LoginPolicy es opcional; por defecto acepta todo.
	LoginPolicy LoginPolicy
}

// Client es el cliente OIDC.
type Client struct {
	settings func() Config
	state    *state.Store
	pkce     *pkce.Generator
	http     *http.Client
	verifier *Verifier
	policy   LoginPolicy
}

// NewClient crea un Client.
func NewClient(d Deps) *Client {
	c := &Client{
		settings: d.Settings,
		state:    d.State,
		pkce:     d.PKCE,
		http:     d.HTTP,
		verifier: d.Verifier,
		policy:   d.LoginPolicy,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.pkce == nil {
		c.pkce = pkce.New()
	}
	if c.policy == nil {
		c.policy = func(context.Context, Claims) bool { return true }
	}
	return c
}

// AuthRequest son los parámetros validados del callback.
type AuthRequest struct {
	Code  string
	State string
}

// BuildAuthorizationURL genera PKCE, persiste el state y arma el URL del
// login endpoint. redirectTo debe estar en el mismo origen que el sitio.
func (c *Client) BuildAuthorizationURL(ctx context.Context, scopeSet, redirectTo string) (string, error) {
	cfg := c.settings()
	log := logger.From(ctx).With(logger.Layer("oidc"), logger.Op("BuildAuthorizationURL"))

	if !IsLocalURL(redirectTo, cfg.SiteURL) {
		log.Warn("redirect_to rejected", logger.String("redirect_to", redirectTo))
		return "", ErrInvalidRedirect
	}

	pair, err := c.pkce.Generate()
	if err != nil {
		return "", err
	}

	token, err := c.state.NewState(ctx, redirectTo, pair.Verifier)
	if err != nil {
		return "", err
	}

	oc := oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Scopes:      strings.Fields(ScopeFor(scopeSet, cfg.Scope)),
		Endpoint:    oauth2.Endpoint{AuthURL: cfg.EndpointLogin},
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pair.Method),
	}
	if cfg.ProviderHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("provider_hint", cfg.ProviderHint))
	}

	u := oc.AuthCodeURL(token, opts...)
	log.Debug("authorization url built", logger.State(token), logger.Category("get_authentication_url"))
	return u, nil
}

// ValidateAuthenticationRequest valida los parámetros del redirect de vuelta.
func (c *Client) ValidateAuthenticationRequest(ctx context.Context, params url.Values) (AuthRequest, error) {
	if params.Has("error") {
		base := ErrUnknownProvider
		if params.Get("error") == "access_denied" {
			base = ErrCancelled
		}
		out := *base
		if d := params.Get("error_description"); d != "" {
			out.Message = d
		}
		return AuthRequest{}, &out
	}
	if !params.Has("code") {
		return AuthRequest{}, ErrMissingCode
	}
	if !params.Has("state") {
		return AuthRequest{}, ErrMissingState
	}

	token := params.Get("state")
	ok, err := c.state.Check(ctx, token)
	if err != nil {
		return AuthRequest{}, ErrInvalidState.withCause(err)
	}
	if !ok {
		return AuthRequest{}, ErrInvalidState
	}
	return AuthRequest{Code: params.Get("code"), State: token}, nil
}

// RawTokenResult es la respuesta HTTP cruda del token endpoint.
type RawTokenResult struct {
	StatusCode int
	Body       []byte
}

const maxTokenBody = 1 << 20

// ExchangeCode intercambia el código por tokens. El code_verifier se lee
// del state; si no existe se envía vacío y el Provider rechazará el pedido.
func (c *Client) ExchangeCode(ctx context.Context, code, stateToken string) (*RawTokenResult, error) {
	cfg := c.settings()
	log := logger.From(ctx).With(logger.Layer("oidc"), logger.Op("ExchangeCode"))

	verifier := ""
	if st, err := c.state.Consume(ctx, stateToken); err == nil {
		verifier = st.CodeVerifier
	} else if !errors.Is(err, state.ErrNotFound) {
		log.Warn("state lookup failed", logger.Err(err))
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {cfg.ClientID},
		"redirect_uri":  {cfg.RedirectURI},
		"grant_type":    {"authorization_code"},
		"scope":         {AddDefaultScopes(cfg.Scope)},
		"code_verifier": {verifier},
	}
	if cfg.AcrValues != "" {
		form.Set("acr_values", cfg.AcrValues)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.EndpointToken, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, ErrTokenRequest.withCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// Host explícito para despliegues detrás de reverse proxy.
	if u, err := url.Parse(cfg.EndpointToken); err == nil {
		req.Host = u.Host
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.TokenExchange(time.Since(start))
	if err != nil {
		log.Error("token request failed", logger.Err(err), logger.Category("exchange_authorization_code"))
		return nil, ErrTokenRequest.withCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return nil, ErrTokenRequest.withCause(err)
	}
	return &RawTokenResult{StatusCode: resp.StatusCode, Body: body}, nil
}

// GetSubjectIdentity retorna el sub del claim.
func (c *Client) GetSubjectIdentity(claims Claims) string {
	return claims.Subject()
}

// Settings expone la configuración vigente.
func (c *Client) Settings() Config { return c.settings() }
