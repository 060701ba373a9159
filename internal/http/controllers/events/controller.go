// Package events recibe los Security Event Tokens del Provider.
package events

import (
	"context"
	"net/http"

	httperrors "github.com/dropDatabas3/hellologin/internal/http/errors"
)

// Processor procesa un request de evento y retorna el status a responder.
type Processor interface {
	Handle(ctx context.Context, r *http.Request) (int, error)
}

type Controller struct {
	processor Processor
}

func NewController(p Processor) *Controller {
	return &Controller{processor: p}
}

// Receive maneja POST /event. El éxito es un 202 sin body; los fallos
// llevan el AppError del status (el motivo ya quedó logueado).
func (c *Controller) Receive(w http.ResponseWriter, r *http.Request) {
	status, err := c.processor.Handle(r.Context(), r)
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", http.MethodPost)
	}
	if status < http.StatusBadRequest {
		w.WriteHeader(status)
		return
	}
	appErr := httperrors.FromStatus(status)
	if appErr.HTTPStatus != status {
		appErr = httperrors.New(status, appErr.Code, appErr.Message)
	}
	httperrors.WriteError(w, appErr.WithCause(err))
}
