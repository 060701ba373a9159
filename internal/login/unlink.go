package login

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"

	"github.com/dropDatabas3/hellologin/internal/config"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
	"github.com/dropDatabas3/hellologin/internal/users"
)

// UnlinkAction es el prefijo de la acción del nonce CSRF de unlink; el
// nonce se emite para "unlink"+<id del usuario objetivo>.
const UnlinkAction = "unlink"

// Unlink borra el vínculo con el Provider de la cuenta user_id (o de la
// propia sesión). Siempre retorna el perfil del objetivo con un msg.
func (s *Service) Unlink(r *http.Request) string {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("Unlink"), logger.Category("unlink_hello"))
	q := r.URL.Query()

	current, _ := s.sessions.Current(r)
	target := current
	if v := q.Get("user_id"); v != "" {
		target = v
	}

	msg := MsgUnlinkSuccess
	switch {
	case current == "":
		log.Info("no current user")
		msg = MsgUnlinkNoSession
	case target != current && !s.canEditUsers(ctx, current):
		log.Info("current user has no edit_users capability", logger.UserID(current))
		msg = MsgUnlinkNoSession
	case s.sessions.VerifyNonce(current, UnlinkAction+target, q.Get("_csrf")) != nil:
		log.Warn("csrf nonce verification failed", logger.UserID(current))
		msg = MsgUnlinkNoSession
	default:
		ok, err := s.users.Unlink(ctx, target)
		switch {
		case errors.Is(err, users.ErrNotFound), err == nil && !ok:
			log.Info("user not linked", logger.UserID(target))
			msg = MsgUnlinkNotLinked
		case err != nil:
			log.Error("unlink failed", logger.UserID(target), logger.Err(err))
			msg = MsgUnlinkFailed
		default:
			log.Info("user unlinked", logger.UserID(target))
		}
	}

	loc := s.SiteURL(s.pages.Profile)
	if target != "" {
		loc = withQuery(loc, "user_id", target)
	}
	return withQuery(loc, MessageParam, msg)
}

// ErrUnlinkNotAllowed: sin sesión, o el usuario de la sesión no puede editar
// a otros.
var ErrUnlinkNotAllowed = errors.New("login: unlink not allowed")

// UnlinkURL arma el link de unlink para el perfil de target (vacío = la
// propia cuenta), con el nonce CSRF del usuario de la sesión. La página de
// perfil del host lo obtiene vía GET /unlink-url y lo muestra como botón.
func (s *Service) UnlinkURL(r *http.Request, target string) (string, error) {
	current, err := s.sessions.Current(r)
	if err != nil || current == "" {
		return "", ErrUnlinkNotAllowed
	}
	if target == "" {
		target = current
	}
	if target != current && !s.canEditUsers(r.Context(), current) {
		return "", ErrUnlinkNotAllowed
	}
	nonce, err := s.sessions.Nonce(current, UnlinkAction+target)
	if err != nil {
		return "", err
	}
	return withQuery(withQuery(s.SiteURL(s.pages.Unlink), "user_id", target), "_csrf", nonce), nil
}

func (s *Service) canEditUsers(ctx context.Context, id string) bool {
	u, err := s.users.Directory().FindByID(ctx, id)
	if err != nil {
		return false
	}
	return s.users.Roles().Can(u, users.CapEditUsers)
}

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Quickstart guarda el client_id recibido del servicio de quickstart si
// todavía no hay uno configurado. Retorna la página de settings con un msg.
func (s *Service) Quickstart(ctx context.Context, clientID string) string {
	log := logger.From(ctx).With(logger.Layer("login"), logger.Op("Quickstart"), logger.Category("quickstart"))

	msg := MsgQuickstartSuccess
	switch {
	case clientID == "":
		log.Info("missing client id")
		msg = MsgQuickstartMissing
	case !uuidV4.MatchString(clientID):
		log.Info("invalid client id", logger.ClientID(clientID))
		msg = MsgQuickstartMissing
	case s.settings.Get().ClientID != "":
		log.Info("client id already set")
		msg = MsgQuickstartExisting
	default:
		if err := s.settings.Update(func(st *config.Settings) { st.ClientID = clientID }); err != nil {
			log.Error("saving client id failed", logger.Err(err))
			msg = MsgQuickstartFailed
			break
		}
		log.Info("client id set through quickstart", logger.ClientID(clientID))
	}
	return withQuery(s.SiteURL(s.pages.Settings), MessageParam, msg)
}

// QuickstartURL arma el URL del servicio de quickstart que, al terminar,
// vuelve a la ruta de quickstart con el client_id creado.
func (s *Service) QuickstartURL() string {
	site, _ := url.Parse(s.siteURL)
	name := s.siteURL
	if site != nil && site.Host != "" {
		name = site.Host
	}
	q := url.Values{
		"integration":    {"go-hellologin"},
		"response_uri":   {s.SiteURL(s.pages.Quickstart)},
		"suggested_name": {name},
		"redirect_uri":   {s.SiteURL(s.pages.Callback)},
	}
	base := s.settings.Get().EndpointQuickstart
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + q.Encode()
	}
	u.RawQuery = q.Encode()
	return u.String()
}
