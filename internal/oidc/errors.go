package oidc

import (
	"errors"
	"fmt"
)

// Kind clasifica los errores del flujo de autenticación.
type Kind int

const (
	// KindProtocol: parámetros OAuth faltantes o inválidos, state inválido,
	// respuesta de token mal formada.
	KindProtocol Kind = iota + 1
	// KindProvider: el Provider devolvió un error explícito.
	KindProvider
	// KindClaim: claim sin sub, rechazado por política, acr distinto.
	KindClaim
	// KindTransport: error de red o timeout contra el Provider.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindProvider:
		return "provider"
	case KindClaim:
		return "claim"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error es un error del flujo con un código corto apto para mostrar en
// ?login-error=<code>&message=<message>.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oidc: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("oidc: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara por código, así errors.Is(err, ErrInvalidState) funciona con copias.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) withCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Códigos de error del flujo.
var (
	ErrUnknownProvider   = &Error{Kind: KindProvider, Code: "unknown-error", Message: "An unknown error occurred."}
	ErrCancelled         = &Error{Kind: KindProvider, Code: "cancelled", Message: "Authentication was cancelled."}
	ErrMissingCode       = &Error{Kind: KindProtocol, Code: "no-code", Message: "No authentication code present in the request."}
	ErrMissingState      = &Error{Kind: KindProtocol, Code: "missing-state", Message: "Missing state."}
	ErrInvalidState      = &Error{Kind: KindProtocol, Code: "invalid-state", Message: "Invalid state."}
	ErrInvalidRedirect   = &Error{Kind: KindProtocol, Code: "invalid-redirect", Message: "Redirect target is not on this site."}
	ErrTokenRequest      = &Error{Kind: KindTransport, Code: "token-request-failed", Message: "Token request failed."}
	ErrMissingBody       = &Error{Kind: KindProtocol, Code: "missing-token-body", Message: "Missing token body."}
	ErrInvalidToken      = &Error{Kind: KindProtocol, Code: "invalid-token", Message: "Invalid token."}
	ErrInvalidTokenResp  = &Error{Kind: KindProtocol, Code: "invalid-token-response", Message: "Invalid token response"}
	ErrMissingIDToken    = &Error{Kind: KindProtocol, Code: "missing-identity-token", Message: "Missing identity token."}
	ErrInvalidIDClaim    = &Error{Kind: KindClaim, Code: "bad-id-token-claim", Message: "Bad ID token claim."}
	ErrInvalidSignature  = &Error{Kind: KindClaim, Code: "invalid-signature", Message: "Token signature could not be verified."}
	ErrNoSubjectIdentity = &Error{Kind: KindClaim, Code: "no-subject-identity", Message: "No subject identity."}
	ErrAcrMismatch       = &Error{Kind: KindClaim, Code: "no-match-acr", Message: "No matching acr values."}
	ErrUnauthorized      = &Error{Kind: KindClaim, Code: "unauthorized", Message: "Unauthorized access."}
)

// providerError construye el error para un error=... devuelto por el Provider.
func providerError(code, description string) *Error {
	if description == "" {
		description = code
	}
	return &Error{Kind: KindProvider, Code: code, Message: description}
}
