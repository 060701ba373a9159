// Package session maneja la sesión autenticada del sitio: un JWT HS256 en
// cookie HttpOnly, y nonces CSRF ligados a (usuario, acción).
package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "hello_login_session"
	DefaultTTL        = 48 * time.Hour
	DefaultNonceTTL   = 12 * time.Hour
	issuer            = "hellologin"
)

var (
	ErrNoSession    = errors.New("session: no active session")
	ErrInvalidNonce = errors.New("session: invalid nonce")
	ErrNoSecret     = errors.New("session: empty secret")
)

// Config de la cookie de sesión.
type Config struct {
	Secret     []byte
	CookieName string
	TTL        time.Duration
	NonceTTL   time.Duration
	Domain     string
	SameSite   string
	Secure     bool
}

// Manager emite y valida sesiones.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager crea un Manager. El secreto es obligatorio.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}
	return &Manager{cfg: cfg, now: time.Now}, nil
}

// WithClock reemplaza el reloj (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

type nonceClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
}

func (m *Manager) parse(raw string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return m.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	return err
}

// Start emite la cookie de sesión para userID.
func (m *Manager) Start(w http.ResponseWriter, userID string) error {
	now := m.now()
	tok, err := m.sign(sessionClaims{jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
	}})
	if err != nil {
		return err
	}
	http.SetCookie(w, m.cookie(tok, m.cfg.TTL))
	return nil
}

// End borra la cookie de sesión.
func (m *Manager) End(w http.ResponseWriter) {
	ck := m.cookie("", 0)
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// Current retorna el id del usuario de la sesión activa.
func (m *Manager) Current(r *http.Request) (string, error) {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil || ck.Value == "" {
		return "", ErrNoSession
	}
	var c sessionClaims
	if err := m.parse(ck.Value, &c); err != nil || c.Subject == "" {
		return "", ErrNoSession
	}
	return c.Subject, nil
}

// Nonce emite un token CSRF para (userID, action). El de unlink lo arma
// login.Service.UnlinkURL, que la página de perfil pide a GET /unlink-url.
func (m *Manager) Nonce(userID, action string) (string, error) {
	now := m.now()
	return m.sign(nonceClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.NonceTTL)),
		},
	})
}

// VerifyNonce valida que token fue emitido para (userID, action) y no venció.
func (m *Manager) VerifyNonce(userID, action, token string) error {
	if token == "" {
		return ErrInvalidNonce
	}
	var c nonceClaims
	if err := m.parse(token, &c); err != nil {
		return ErrInvalidNonce
	}
	if c.Subject != userID || c.Action != action {
		return ErrInvalidNonce
	}
	return nil
}

func (m *Manager) cookie(value string, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: parseSameSite(m.cfg.SameSite),
	}
	if strings.TrimSpace(m.cfg.Domain) != "" {
		ck.Domain = m.cfg.Domain
	}
	if ttl > 0 {
		ck.Expires = m.now().Add(ttl).UTC()
		ck.MaxAge = int(ttl.Seconds())
	}
	return ck
}

func parseSameSite(s string) http.SameSite {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
