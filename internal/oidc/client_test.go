package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellologin/internal/cache"
	"github.com/dropDatabas3/hellologin/internal/pkce"
	"github.com/dropDatabas3/hellologin/internal/state"
)

const testClientID = "4c1ec93b-2714-4d72-9582-b09c515c5bd8"

func newTestClient(t *testing.T, tokenURL string, mutate ...func(*Config)) (*Client, *state.Store) {
	t.Helper()
	st := state.New(cache.NewMemory(""), 10*time.Minute)
	cfg := Config{
		ClientID:       testClientID,
		EndpointLogin:  "https://wallet.hello.coop/authorize",
		EndpointToken:  tokenURL,
		RedirectURI:    "https://site.test/callback",
		SiteURL:        "https://site.test",
		Scope:          "nickname",
		RequestTimeout: 2 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c := NewClient(Deps{
		Settings: func() Config { return cfg },
		State:    st,
		PKCE:     pkce.New(),
	})
	return c, st
}

func encodeJWT(t *testing.T, payload any) string {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	head := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return head + "." + base64.RawURLEncoding.EncodeToString(b) + ".sig"
}

func TestBuildAuthorizationURL(t *testing.T) {
	ctx := context.Background()
	c, st := newTestClient(t, "https://wallet.hello.coop/oauth/token", func(cfg *Config) {
		cfg.ProviderHint = "github"
	})

	raw, err := c.BuildAuthorizationURL(ctx, "auth", "https://site.test/after")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wallet.hello.coop", u.Host)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "nickname openid email name", q.Get("scope"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "https://site.test/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "github", q.Get("provider_hint"))

	rec, err := st.Consume(ctx, q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/after", rec.RedirectTo)
	assert.Equal(t, pkce.Challenge(rec.CodeVerifier), q.Get("code_challenge"))
}

func TestBuildAuthorizationURL_UpdateEmailScopeAndNoHint(t *testing.T) {
	c, _ := newTestClient(t, "")
	raw, err := c.BuildAuthorizationURL(context.Background(), ScopeSetUpdateEmail, "/x")
	require.NoError(t, err)

	q, _ := url.Parse(raw)
	assert.Equal(t, "openid profile_update email", q.Query().Get("scope"))
	assert.False(t, q.Query().Has("provider_hint"))
}

func TestBuildAuthorizationURL_RejectsForeignRedirect(t *testing.T) {
	c, _ := newTestClient(t, "")
	_, err := c.BuildAuthorizationURL(context.Background(), "auth", "https://evil.test/")
	assert.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestValidateAuthenticationRequest(t *testing.T) {
	ctx := context.Background()
	c, st := newTestClient(t, "")
	token, err := st.NewState(ctx, "/", "v")
	require.NoError(t, err)

	_, err = c.ValidateAuthenticationRequest(ctx, url.Values{"error": {"access_denied"}})
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = c.ValidateAuthenticationRequest(ctx, url.Values{"error": {"server_error"}, "error_description": {"boom"}})
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "unknown-error", oe.Code)
	assert.Equal(t, "boom", oe.Message)

	_, err = c.ValidateAuthenticationRequest(ctx, url.Values{"state": {token}})
	assert.ErrorIs(t, err, ErrMissingCode)

	_, err = c.ValidateAuthenticationRequest(ctx, url.Values{"code": {"c"}})
	assert.ErrorIs(t, err, ErrMissingState)

	_, err = c.ValidateAuthenticationRequest(ctx, url.Values{"code": {"c"}, "state": {"forged"}})
	assert.ErrorIs(t, err, ErrInvalidState)

	req, err := c.ValidateAuthenticationRequest(ctx, url.Values{"code": {"c"}, "state": {token}})
	require.NoError(t, err)
	assert.Equal(t, AuthRequest{Code: "c", State: token}, req)
}

func TestExchangeCode_PostsFormWithVerifierAndHost(t *testing.T) {
	ctx := context.Background()
	var got url.Values
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id_token":"a.b.c","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c, st := newTestClient(t, srv.URL+"/oauth/token", func(cfg *Config) { cfg.AcrValues = "mfa" })
	token, err := st.NewState(ctx, "/", "the-verifier")
	require.NoError(t, err)

	raw, err := c.ExchangeCode(ctx, "the-code", token)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, raw.StatusCode)

	assert.Equal(t, "the-code", got.Get("code"))
	assert.Equal(t, "the-verifier", got.Get("code_verifier"))
	assert.Equal(t, "authorization_code", got.Get("grant_type"))
	assert.Equal(t, testClientID, got.Get("client_id"))
	assert.Equal(t, "https://site.test/callback", got.Get("redirect_uri"))
	assert.Equal(t, "nickname openid email name", got.Get("scope"))
	assert.Equal(t, "mfa", got.Get("acr_values"))
	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://"), gotHost)
}

func TestExchangeCode_UnknownStateSendsEmptyVerifier(t *testing.T) {
	var verifier = "unset"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		verifier = r.PostForm.Get("code_verifier")
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	raw, err := c.ExchangeCode(context.Background(), "code", "missing")
	require.NoError(t, err)
	assert.Equal(t, "", verifier)

	_, err = ParseTokenResponse(raw)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "invalid_grant", oe.Code)
	assert.Equal(t, "invalid_grant", oe.Message)
	assert.Equal(t, KindProvider, oe.Kind)
}

func TestExchangeCode_TimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, func(cfg *Config) { cfg.RequestTimeout = 50 * time.Millisecond })
	_, err := c.ExchangeCode(context.Background(), "code", "s")
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindTransport, oe.Kind)
}

func TestParseAndValidateTokenResponse(t *testing.T) {
	_, err := ParseTokenResponse(nil)
	assert.ErrorIs(t, err, ErrMissingBody)

	_, err = ParseTokenResponse(&RawTokenResult{Body: []byte("<html>")})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseTokenResponse(&RawTokenResult{Body: []byte(`{"error":"invalid_request","error_description":"bad code"}`)})
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "bad code", oe.Message)

	tr, err := ParseTokenResponse(&RawTokenResult{Body: []byte(`{"id_token":"x.y","token_type":"bearer"}`)})
	require.NoError(t, err)
	assert.NoError(t, ValidateTokenResponse(tr))

	assert.ErrorIs(t, ValidateTokenResponse(TokenResponse{IDToken: "x.y", TokenType: "MAC"}), ErrInvalidTokenResp)
	assert.ErrorIs(t, ValidateTokenResponse(TokenResponse{TokenType: "Bearer"}), ErrInvalidTokenResp)
}

func TestDecodeIDToken(t *testing.T) {
	c, _ := newTestClient(t, "")

	_, err := c.DecodeIDToken(TokenResponse{IDToken: "nodots"})
	assert.ErrorIs(t, err, ErrMissingIDToken)

	_, err = c.DecodeIDToken(TokenResponse{IDToken: "h." + base64.RawURLEncoding.EncodeToString([]byte("[1,2]")) + ".s"})
	assert.ErrorIs(t, err, ErrInvalidIDClaim)

	claims, err := c.DecodeIDToken(TokenResponse{IDToken: encodeJWT(t, map[string]any{"sub": "abc", "email": "a@b.c"})})
	require.NoError(t, err)
	assert.Equal(t, "abc", c.GetSubjectIdentity(claims))

	// Padding y alfabeto estándar también se aceptan.
	payload := base64.StdEncoding.EncodeToString([]byte(`{"sub":"padded?>"}`))
	claims, err = c.DecodeIDToken(TokenResponse{IDToken: "h." + payload})
	require.NoError(t, err)
	assert.Equal(t, "padded?>", claims.Subject())
}

func TestValidateIDTokenClaim(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, "", func(cfg *Config) { cfg.AcrValues = "mfa" })

	assert.ErrorIs(t, c.ValidateIDTokenClaim(ctx, Claims{"email": "x"}), ErrNoSubjectIdentity)
	assert.ErrorIs(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": ""}), ErrNoSubjectIdentity)
	assert.ErrorIs(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": "s", "acr": "pwd"}), ErrAcrMismatch)
	assert.NoError(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": "s", "acr": "mfa"}))
	assert.NoError(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": "s"}))

	err := c.ValidateIDTokenClaim(ctx, Claims{"sub": "s", "error": "revoked"})
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "invalid-id-token-claim-revoked", oe.Code)
}

func TestValidateIDTokenClaim_PolicyRejects(t *testing.T) {
	st := state.New(cache.NewMemory(""), time.Minute)
	c := NewClient(Deps{
		Settings: func() Config { return Config{} },
		State:    st,
		LoginPolicy: func(_ context.Context, claims Claims) bool {
			email, _ := claims.String("email")
			return strings.HasSuffix(email, "@allowed.test")
		},
	})
	ctx := context.Background()
	assert.ErrorIs(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": "s", "email": "x@other.test"}), ErrUnauthorized)
	assert.NoError(t, c.ValidateIDTokenClaim(ctx, Claims{"sub": "s", "email": "x@allowed.test"}))
}

func TestDecodeIDToken_WithVerifier(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	v := NewVerifier(func(*jwt.Token) (any, error) { return key, nil }, "HS256")

	st := state.New(cache.NewMemory(""), time.Minute)
	c := NewClient(Deps{Settings: func() Config { return Config{} }, State: st, Verifier: v})

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "signed"}).SignedString(key)
	require.NoError(t, err)

	claims, err := c.DecodeIDToken(TokenResponse{IDToken: signed})
	require.NoError(t, err)
	assert.Equal(t, "signed", claims.Subject())

	_, err = c.DecodeIDToken(TokenResponse{IDToken: encodeJWT(t, map[string]any{"sub": "forged"})})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimsLookup_Aggregated(t *testing.T) {
	src := encodeJWT(t, map[string]any{"org": "example.com"})
	claims := Claims{
		"sub":            "s",
		"_claim_names":   map[string]any{"org": "src1", "missing": "src2"},
		"_claim_sources": map[string]any{"src1": map[string]any{"JWT": src}},
	}

	v, ok := claims.Lookup("org")
	assert.True(t, ok)
	assert.Equal(t, "example.com", v)

	_, ok = claims.Lookup("missing")
	assert.False(t, ok)

	_, ok = claims.Lookup("nope")
	assert.False(t, ok)
}
