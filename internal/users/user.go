// Package users define el directorio de usuarios locales (contrato, roles y
// capacidades, backends memory y Postgres) y el servicio que crea o vincula
// cuentas a partir de una identidad del Provider.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// Claves de metadata.
const (
	MetaSubject       = "hello-login-subject-identity"
	MetaLastLogin     = "hello-login-last-login"
	MetaLastToken     = "hello-login-last-token"
	MetaInviteCreated = "hello-login-invite_created"
	MetaInvitedUnused = "hello-login-invite_unused"
	MetaLastClaim     = "hello-login-last-user-claim"
	MetaClaimPrefix   = "hello-login-claim-"
)

var (
	ErrNotFound     = errors.New("users: not found")
	ErrLoginTaken   = errors.New("users: login already exists")
	ErrInvalidInput = errors.New("users: invalid input")
	ErrUnknownRole  = errors.New("users: unknown role")
)

// duplicateSubject registra el caso de varias cuentas con el mismo sub. Los
// backends devuelven la más antigua; el error queda en el log del plugin.
func duplicateSubject(ctx context.Context, sub string, n int) {
	logger.From(ctx).Error("more than one user found with subject identifier",
		logger.Layer("users"), logger.Op("FindBySubject"), logger.Sub(sub), logger.Count(n),
		logger.Category("get_user_by_identity"))
}

// User es una cuenta local.
type User struct {
	ID           string
	Login        string
	Email        string
	Nickname     string
	DisplayName  string
	FirstName    string
	LastName     string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
}

// HasRole reporta si el usuario tiene el rol.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CreateInput son los atributos de una cuenta nueva.
type CreateInput struct {
	Login        string
	Email        string
	Nickname     string
	DisplayName  string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string
}

// Directory es el almacenamiento de usuarios y su metadata.
type Directory interface {
	// FindByID retorna ErrNotFound si no existe.
	FindByID(ctx context.Context, id string) (*User, error)
	// FindBySubject busca por la metadata MetaSubject. ErrNotFound si no hay.
	// Con más de un match devuelve la cuenta más antigua y lo registra como
	// error de consistencia.
	FindBySubject(ctx context.Context, sub string) (*User, error)
	// FindByEmail retorna el id de la cuenta con ese email (sin distinguir
	// mayúsculas). ErrNotFound si no hay.
	FindByEmail(ctx context.Context, email string) (string, error)
	LoginExists(ctx context.Context, login string) (bool, error)

	// Create retorna ErrLoginTaken si el login ya existe.
	Create(ctx context.Context, in CreateInput) (*User, error)
	// Update persiste login, email y nombres.
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error

	AddRole(ctx context.Context, id, role string) error

	GetMeta(ctx context.Context, id, key string) (string, bool, error)
	SetMeta(ctx context.Context, id, key, value string) error
	DeleteMeta(ctx context.Context, id, key string) error
}
