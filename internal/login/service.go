// Package login orquesta el flujo completo de autenticación contra el
// Provider: inicio, callback con resolución y vinculación de la cuenta local,
// desvinculación y quickstart del client_id.
package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/hellologin/internal/audit"
	"github.com/dropDatabas3/hellologin/internal/config"
	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
	"github.com/dropDatabas3/hellologin/internal/oidc"
	"github.com/dropDatabas3/hellologin/internal/state"
	"github.com/dropDatabas3/hellologin/internal/users"
)

// Ids de mensaje agregados a los redirects.
const (
	MessageParam = "msg"

	MsgLinkSuccess = "link_success"

	MsgUnlinkSuccess   = "unlink_success"
	MsgUnlinkNoSession = "unlink_no_session"
	MsgUnlinkNotLinked = "unlink_not_linked"
	MsgUnlinkFailed    = "unlink_failed"

	MsgQuickstartSuccess  = "quickstart_success"
	MsgQuickstartExisting = "quickstart_existing_client_id"
	MsgQuickstartMissing  = "quickstart_missing_client_id"
	MsgQuickstartFailed   = "quickstart_failed"
)

// Pages son los paths locales del sitio que usa el flujo.
type Pages struct {
	Home       string
	Login      string
	Profile    string
	Settings   string
	Callback   string
	Quickstart string
	Unlink     string
}

// Sessions es la vista del manejador de sesiones que usa el flujo.
type Sessions interface {
	Start(w http.ResponseWriter, userID string) error
	Current(r *http.Request) (string, error)
	Nonce(userID, action string) (string, error)
	VerifyNonce(userID, action, token string) error
}

// SettingsStore es la configuración editable en runtime.
type SettingsStore interface {
	Get() config.Settings
	Update(fn func(*config.Settings)) error
}

// Deps agrupa las dependencias del Service.
type Deps struct {
	Client   *oidc.Client
	State    *state.Store
	Users    *users.Service
	Sessions Sessions
	Settings SettingsStore
	Bus      *audit.Bus
	// SiteURL es el origen público, p.ej. https://example.com
	SiteURL string
	Pages   Pages
}

// Service es el orquestador del login.
type Service struct {
	client   *oidc.Client
	state    *state.Store
	users    *users.Service
	sessions Sessions
	settings SettingsStore
	bus      *audit.Bus
	siteURL  string
	pages    Pages
}

// NewService crea un Service.
func NewService(d Deps) *Service {
	p := d.Pages
	if p.Home == "" {
		p.Home = "/"
	}
	if p.Login == "" {
		p.Login = "/login"
	}
	if p.Profile == "" {
		p.Profile = "/profile"
	}
	if p.Settings == "" {
		p.Settings = "/settings"
	}
	if p.Callback == "" {
		p.Callback = "/callback"
	}
	if p.Quickstart == "" {
		p.Quickstart = "/quickstart"
	}
	if p.Unlink == "" {
		p.Unlink = "/unlink"
	}
	return &Service{
		client:   d.Client,
		state:    d.State,
		users:    d.Users,
		sessions: d.Sessions,
		settings: d.Settings,
		bus:      d.Bus,
		siteURL:  strings.TrimRight(d.SiteURL, "/"),
		pages:    p,
	}
}

// SiteURL arma una URL absoluta del sitio para path.
func (s *Service) SiteURL(path string) string {
	return s.siteURL + "/" + strings.TrimLeft(path, "/")
}

// withQuery agrega key=value a raw respetando la query existente.
func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		sep := "?"
		if strings.Contains(raw, "?") {
			sep = "&"
		}
		return raw + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// StartAuth valida redirect_to_path (solo un path, sin esquema, host ni
// credenciales) y retorna el URL de autorización del Provider.
func (s *Service) StartAuth(ctx context.Context, redirectToPath, scopeSet string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("StartAuth"))

	redirectTo := s.SiteURL(s.pages.Home)
	if redirectToPath != "" {
		p, err := url.Parse(redirectToPath)
		if err != nil || p.Scheme != "" || p.Host != "" || p.User != nil || p.Opaque != "" {
			log.Warn("invalid redirect_to_path", logger.String("redirect_to_path", redirectToPath))
			return "", ErrInvalidPath
		}
		redirectTo = s.siteURL + "/" + strings.TrimLeft(redirectToPath, "/")
	}
	if scopeSet == "" {
		scopeSet = "auth"
	}
	return s.client.BuildAuthorizationURL(ctx, scopeSet, redirectTo)
}

// ErrorLocation registra el fallo y arma el redirect a la página de login
// con ?login-error=<code>&message=<message>.
func (s *Service) ErrorLocation(ctx context.Context, err error) string {
	code, msg := codeOf(err)
	logger.From(ctx).Warn("authentication failed",
		logger.Code(code), logger.Err(err), logger.Layer("login"), logger.Category("error"))
	metrics.Login(code)

	loc := withQuery(s.SiteURL(s.pages.Login), "login-error", code)
	return withQuery(loc, "message", msg)
}

// Callback procesa el redirect de vuelta del Provider. En éxito inicia la
// sesión del usuario resuelto y retorna el destino final.
func (s *Service) Callback(w http.ResponseWriter, r *http.Request) (string, error) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("Callback"))

	req, err := s.client.ValidateAuthenticationRequest(ctx, r.URL.Query())
	if err != nil {
		return "", err
	}
	raw, err := s.client.ExchangeCode(ctx, req.Code, req.State)
	if err != nil {
		return "", err
	}
	tr, err := oidc.ParseTokenResponse(raw)
	if err != nil {
		return "", err
	}
	if err := oidc.ValidateTokenResponse(tr); err != nil {
		return "", err
	}
	claims, err := s.client.DecodeIDToken(tr)
	if err != nil {
		return "", err
	}
	if err := s.client.ValidateIDTokenClaim(ctx, claims); err != nil {
		return "", err
	}
	sub := s.client.GetSubjectIdentity(claims)

	current, _ := s.sessions.Current(r)
	u, messageID, err := s.resolveUser(ctx, sub, claims, current)
	if err != nil {
		return "", err
	}

	if err := s.users.SaveExtraClaims(ctx, u.ID, claims); err != nil {
		log.Warn("saving extra claims failed", logger.UserID(u.ID), logger.Err(err))
	}
	if err := s.users.UpdateFromClaims(ctx, u, claims); err != nil {
		log.Warn("updating user from claims failed", logger.UserID(u.ID), logger.Err(err), logger.Category("user-claims"))
	}

	u, err = s.users.Directory().FindByID(ctx, u.ID)
	if err != nil {
		return "", ErrInvalidUser.withCause(err)
	}

	if err := s.loginUser(ctx, w, u, claims, tr.IDToken); err != nil {
		return "", err
	}
	log.Info("successful login", logger.UserID(u.ID), logger.String("login", u.Login), logger.Category("login-success"))
	metrics.Login("ok")

	dest := s.SiteURL(s.pages.Home)
	if st, err := s.state.Consume(ctx, req.State); err == nil && st.RedirectTo != "" {
		dest = st.RedirectTo
	}
	if s.settings.Get().RedirectUserBack {
		s.bus.Publish(ctx, audit.Event{Kind: audit.Redirect, UserID: u.ID, Fields: map[string]any{"redirect_to": dest}})
	}
	if messageID != "" {
		dest = withQuery(dest, MessageParam, messageID)
	}
	return dest, nil
}

// resolveUser mapea sub a una cuenta local: la vinculada, la de la sesión
// activa (vinculándola) o una creada o vinculada por email.
func (s *Service) resolveUser(ctx context.Context, sub string, claims oidc.Claims, current string) (*users.User, string, error) {
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("resolveUser"), logger.Sub(sub))
	dir := s.users.Directory()

	u, err := dir.FindBySubject(ctx, sub)
	switch {
	case err == nil:
		if current != "" && current != u.ID {
			log.Warn("subject mapped to a different user than the session",
				logger.UserID(current), logger.String("mapped_user_id", u.ID), logger.Category("user_link_error"))
			return nil, "", users.ErrUserLink
		}
		return u, "", nil
	case !errors.Is(err, users.ErrNotFound):
		return nil, "", err
	}

	if current != "" {
		linked, err := s.users.LinkExisting(ctx, current, sub)
		if errors.Is(err, users.ErrNotFound) {
			return nil, "", ErrInvalidUser.withCause(err)
		}
		if err != nil {
			return nil, "", err
		}
		log.Info("session user linked", logger.UserID(linked.ID), logger.Category("link"))
		return linked, MsgLinkSuccess, nil
	}

	pol := s.users.Policy()
	if !pol.LinkExistingUsers && !pol.CreateIfDoesNotExist {
		return nil, "", ErrIdentityNotMapped
	}

	in, err := s.createInput(claims)
	if err != nil {
		return nil, "", err
	}
	u, err = s.users.CreateOrLink(ctx, sub, in, false)
	if err != nil {
		return nil, "", err
	}
	return u, "", nil
}

// createInput deriva los atributos de la cuenta nueva a partir del claim.
func (s *Service) createInput(claims oidc.Claims) (users.CreateInput, error) {
	email, err := FormatWithClaims("{email}", claims, true)
	if err != nil {
		return users.CreateInput{}, err
	}
	username, err := UsernameFromClaims(claims)
	if err != nil {
		return users.CreateInput{}, err
	}
	nickname := NicknameFromClaims(claims)
	if nickname == "" {
		nickname = username
	}
	display, err := FormatWithClaims(s.settings.Get().DisplayNameFormat, claims, true)
	if err != nil {
		return users.CreateInput{}, err
	}
	first, _ := claims.String("given_name")
	last, _ := claims.String("family_name")
	return users.CreateInput{
		Login:       username,
		Email:       email,
		Nickname:    nickname,
		DisplayName: display,
		FirstName:   first,
		LastName:    last,
	}, nil
}

// loginUser guarda la metadata del login e inicia la sesión.
func (s *Service) loginUser(ctx context.Context, w http.ResponseWriter, u *users.User, claims oidc.Claims, idToken string) error {
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("loginUser"), logger.UserID(u.ID))
	dir := s.users.Directory()

	s.renameInvited(ctx, u, claims)

	if b, err := json.Marshal(claims); err == nil {
		if err := dir.SetMeta(ctx, u.ID, users.MetaLastClaim, string(b)); err != nil {
			log.Warn("saving last claim failed", logger.Err(err))
		}
	}
	if err := s.users.SetLastToken(ctx, u.ID, idToken); err != nil {
		log.Warn("saving last token failed", logger.Err(err))
	}
	if err := s.users.RecordLogin(ctx, u.ID); err != nil {
		log.Warn("saving last login failed", logger.Err(err))
	}

	if err := s.sessions.Start(w, u.ID); err != nil {
		return ErrInvalidUser.withCause(err)
	}
	s.bus.Publish(ctx, audit.Event{Kind: audit.UserLoggedIn, UserID: u.ID})
	return nil
}

// renameInvited recalcula el login de una cuenta invitada (creada con el
// email como login) en su primer login real.
func (s *Service) renameInvited(ctx context.Context, u *users.User, claims oidc.Claims) {
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("renameInvited"), logger.UserID(u.ID))

	unused, err := s.users.IsInvitedUnused(ctx, u.ID)
	if err != nil || !unused {
		return
	}
	username, err := UsernameFromClaims(claims)
	if err != nil {
		log.Warn("no username for invited user", logger.Err(err), logger.Category("invites"))
		return
	}
	login, err := s.users.UniqueLogin(ctx, username)
	if err != nil {
		log.Warn("no unique username for invited user", logger.Err(err), logger.Category("invites"))
		return
	}
	u.Login = login
	if err := s.users.Directory().Update(ctx, u); err != nil {
		log.Warn("updating username of invited user on first login failed", logger.Err(err), logger.Category("invites"))
		return
	}
	log.Info("invited user renamed on first login", logger.String("login", login), logger.Category("invites"))
}
