package login

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/hellologin/internal/oidc"
	"github.com/dropDatabas3/hellologin/internal/users"
)

// Error es un fallo del flujo de login con código corto, pensado para
// ?login-error=<code>&message=<message>.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return "login: " + e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) withCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

var (
	ErrInvalidPath          = &Error{Code: "invalid_path", Message: "Invalid redirect_to_path"}
	ErrIdentityNotMapped    = &Error{Code: "identity-not-map-existing-user", Message: "User identity is not linked to an existing user."}
	ErrIncompleteUserClaim  = &Error{Code: "incomplete-user-claim", Message: "User claim incomplete."}
	ErrNoUsername           = &Error{Code: "no-username", Message: "No appropriate username found."}
	ErrUsernameSanitization = &Error{Code: "username-sanitization-failed", Message: "Username could not be sanitized."}
	ErrInvalidUser          = &Error{Code: "invalid-user", Message: "Invalid user."}
)

// codeOf extrae código y mensaje visibles de cualquier error del flujo.
func codeOf(err error) (string, string) {
	var le *Error
	if errors.As(err, &le) {
		return le.Code, le.Message
	}
	var oe *oidc.Error
	if errors.As(err, &oe) {
		return oe.Code, oe.Message
	}
	var ue *users.Error
	if errors.As(err, &ue) {
		return ue.Code, ue.Message
	}
	return oidc.ErrUnknownProvider.Code, oidc.ErrUnknownProvider.Message
}
