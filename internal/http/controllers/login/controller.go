// Package login expone el flujo de autenticación: /start, /callback,
// /unlink, /unlink-url y /quickstart. Todas las respuestas son redirects
// salvo un redirect_to_path inválido y el JSON de /unlink-url.
package login

import (
	"context"
	"errors"
	"net/http"

	httperrors "github.com/dropDatabas3/hellologin/internal/http/errors"
	svc "github.com/dropDatabas3/hellologin/internal/login"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// Service es la parte del orquestador que usa el controller.
type Service interface {
	StartAuth(ctx context.Context, redirectToPath, scopeSet string) (string, error)
	Callback(w http.ResponseWriter, r *http.Request) (string, error)
	ErrorLocation(ctx context.Context, err error) string
	Unlink(r *http.Request) string
	UnlinkURL(r *http.Request, target string) (string, error)
	Quickstart(ctx context.Context, clientID string) string
}

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// Start maneja GET /start?redirect_to_path=&scope_set=
func (c *Controller) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("LoginController.Start"))

	q := r.URL.Query()
	loc, err := c.service.StartAuth(ctx, q.Get("redirect_to_path"), q.Get("scope_set"))
	if errors.Is(err, svc.ErrInvalidPath) {
		httperrors.WriteError(w, httperrors.ErrInvalidPath.WithCause(err))
		return
	}
	if err != nil {
		log.Error("building authorization url failed", logger.Err(err))
		loc = c.service.ErrorLocation(ctx, err)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// Callback maneja GET /callback. Cualquier fallo termina en la página de
// login con ?login-error=.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	loc, err := c.service.Callback(w, r)
	if err != nil {
		loc = c.service.ErrorLocation(r.Context(), err)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// Unlink maneja GET /unlink?user_id=&_csrf=
func (c *Controller) Unlink(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, c.service.Unlink(r), http.StatusFound)
}

// UnlinkLink maneja GET /unlink-url?user_id= y responde {"url": ...} para que
// la página de perfil del host muestre el link con su nonce.
func (c *Controller) UnlinkLink(w http.ResponseWriter, r *http.Request) {
	u, err := c.service.UnlinkURL(r, r.URL.Query().Get("user_id"))
	if errors.Is(err, svc.ErrUnlinkNotAllowed) {
		httperrors.WriteError(w, httperrors.ErrForbidden.WithCause(err))
		return
	}
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, map[string]string{"url": u})
}

// Quickstart maneja GET /quickstart?client_id=
func (c *Controller) Quickstart(w http.ResponseWriter, r *http.Request) {
	loc := c.service.Quickstart(r.Context(), r.URL.Query().Get("client_id"))
	http.Redirect(w, r, loc, http.StatusFound)
}
