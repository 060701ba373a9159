// Package events procesa los Security Event Tokens (SET) que el Provider
// envía por POST: valida el request, decodifica y valida el evento, y
// despacha cada sub-evento (invitaciones y sync de grupos federados).
//
// No hay protección contra replay: todos los tipos soportados son
// idempotentes.
package events

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dropDatabas3/hellologin/internal/oidc"
)

// URIs de tipos de evento.
const (
	InviteCreated         = "https://hello.coop/invite/created"
	InviteDeclined        = "https://hello.coop/invite/declined"
	InviteRetracted       = "https://hello.coop/invite/retracted"
	FederationGroupsSync  = "https://hello.coop/federation/groups/sync"
	FederationUserSync    = "https://hello.coop/federation/user/sync"
	FederationUserDisable = "https://hello.coop/federation/user/disable"
)

const (
	// MaxBodyBytes es el tamaño máximo aceptado del SET.
	MaxBodyBytes = 1 << 20

	ContentTypeSET = "application/secevent+jwt"
	AcceptJSON     = "application/json"
)

// StatusError es un fallo con el status HTTP que corresponde responder.
type StatusError struct {
	Status int
	Reason string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("events: %d %s: %v", e.Status, e.Reason, e.Err)
	}
	return fmt.Sprintf("events: %d %s", e.Status, e.Reason)
}

func (e *StatusError) Unwrap() error { return e.Err }

func statusErr(status int, reason string, err error) *StatusError {
	return &StatusError{Status: status, Reason: reason, Err: err}
}

// SecurityEvent es el payload decodificado de un SET.
type SecurityEvent map[string]any

func (e SecurityEvent) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func (e SecurityEvent) Issuer() string   { return e.str("iss") }
func (e SecurityEvent) Audience() string { return e.str("aud") }
func (e SecurityEvent) Subject() string  { return e.str("sub") }
func (e SecurityEvent) Email() string    { return e.str("email") }

// Events retorna el mapa tipo -> sub-evento. Los sub-eventos que no son
// objetos se devuelven vacíos.
func (e SecurityEvent) Events() map[string]map[string]any {
	raw, _ := e["events"].(map[string]any)
	out := make(map[string]map[string]any, len(raw))
	for k, v := range raw {
		m, _ := v.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		out[k] = m
	}
	return out
}

// mediaType retorna el tipo sin parámetros (lo anterior al primer ';').
func mediaType(h string) string {
	mt, _, _ := strings.Cut(h, ";")
	return strings.TrimSpace(mt)
}

// hasContentLength distingue "Content-Length: 0" de un header ausente: el
// servidor deja ContentLength en 0 en ambos casos y en -1 si el cuerpo es chunked.
func hasContentLength(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	return r.ContentLength == 0 && r.Header.Get("Content-Length") != ""
}

// ValidateRequest aplica, en orden: método POST (405), Content-Length
// presente (411), tamaño <= 1 MiB (413), Content-Type SET (400) y Accept
// JSON (400).
func ValidateRequest(r *http.Request) error {
	if r.Method != http.MethodPost {
		return statusErr(http.StatusMethodNotAllowed, "POST method expected, got: "+r.Method, nil)
	}
	if !hasContentLength(r) {
		return statusErr(http.StatusLengthRequired, "content length missing", nil)
	}
	if r.ContentLength > MaxBodyBytes {
		return statusErr(http.StatusRequestEntityTooLarge, fmt.Sprintf("content length too large: %d", r.ContentLength), nil)
	}
	if ct := mediaType(r.Header.Get("Content-Type")); ct != ContentTypeSET {
		return statusErr(http.StatusBadRequest, "invalid content type: "+ct, nil)
	}
	if acc := mediaType(r.Header.Get("Accept")); acc != AcceptJSON {
		return statusErr(http.StatusBadRequest, "invalid accept header: "+acc, nil)
	}
	return nil
}

// DecodeEvent decodifica el payload del SET sin verificar la firma. Los
// errores llevan "not 3 parts", "base64 decode failed" o "json decode
// failed".
func DecodeEvent(body string) (SecurityEvent, error) {
	payload, err := oidc.DecodeJWTPayload(strings.TrimSpace(body))
	if err != nil {
		return nil, statusErr(http.StatusBadRequest, "invalid event", err)
	}
	return SecurityEvent(payload), nil
}

// ValidateEvent exige iss == HelloIssuer(endpointLogin) y aud == clientID.
func ValidateEvent(ev SecurityEvent, endpointLogin, clientID string) error {
	if want := oidc.HelloIssuer(endpointLogin); want == "" || ev.Issuer() != want {
		return statusErr(http.StatusBadRequest, "invalid issuer: "+ev.Issuer(), nil)
	}
	if clientID == "" || ev.Audience() != clientID {
		return statusErr(http.StatusBadRequest, "invalid audience: "+ev.Audience(), nil)
	}
	return nil
}
