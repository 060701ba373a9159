package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dropDatabas3/hellologin/internal/audit"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
)

// MaxLoginProbes acota la búsqueda de login libre (name, name2, ...).
const MaxLoginProbes = 100

// Error es un fallo con código corto, pensado para mostrarse al usuario.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrCannotAuthorize     = &Error{Code: "cannot-authorize", Message: "Can not authorize."}
	ErrFailedCreation      = &Error{Code: "failed-user-creation", Message: "Failed user creation."}
	ErrUserLink            = &Error{Code: "user_link_error", Message: "User already linked to a different Hellō account."}
	ErrUsernameUnavailable = &Error{Code: "username-unavailable", Message: "Could not find an available username."}
)

// Policy son los flags de creación y vinculación.
type Policy struct {
	LinkExistingUsers    bool
	CreateIfDoesNotExist bool
}

// Hooks son los puntos de extensión previos a la creación.
type Hooks struct {
	// CreationTest recibe la decisión de Policy y puede cambiarla.
	CreationTest func(ctx context.Context, in CreateInput, allowed bool) bool
	// AlterUserData transforma los atributos antes de crear la cuenta.
	AlterUserData func(in CreateInput) CreateInput
}

// ServiceDeps agrupa las dependencias de Service.
type ServiceDeps struct {
	Directory Directory
	Roles     RoleTable
	Policy    func() Policy
	Hooks     Hooks
	Bus       *audit.Bus
	Now       func() time.Time
}

// Service implementa la creación, vinculación y mantenimiento de cuentas
// mapeadas a un sub del Provider.
type Service struct {
	dir    Directory
	roles  RoleTable
	policy func() Policy
	hooks  Hooks
	bus    *audit.Bus
	now    func() time.Time
}

// NewService crea un Service.
func NewService(d ServiceDeps) *Service {
	s := &Service{
		dir:    d.Directory,
		roles:  d.Roles,
		policy: d.Policy,
		hooks:  d.Hooks,
		bus:    d.Bus,
		now:    d.Now,
	}
	if s.roles == nil {
		s.roles = DefaultRoles
	}
	if s.policy == nil {
		s.policy = func() Policy { return Policy{LinkExistingUsers: true, CreateIfDoesNotExist: true} }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Directory() Directory { return s.dir }
func (s *Service) Roles() RoleTable     { return s.roles }

// Policy retorna los flags vigentes.
func (s *Service) Policy() Policy { return s.policy() }

// CreateOrLink vincula sub a la cuenta con el mismo email (si la política lo
// permite o forceLink) o crea una cuenta nueva con un login único.
func (s *Service) CreateOrLink(ctx context.Context, sub string, in CreateInput, forceLink bool) (*User, error) {
	log := logger.From(ctx).With(logger.Layer("users"), logger.Op("CreateOrLink"), logger.Sub(sub))
	pol := s.policy()

	if in.Role != "" && !s.roles.Exists(in.Role) {
		return nil, ErrUnknownRole
	}

	if forceLink || pol.LinkExistingUsers {
		id, err := s.dir.FindByEmail(ctx, in.Email)
		switch {
		case err == nil:
			return s.LinkExisting(ctx, id, sub)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	allowed := pol.CreateIfDoesNotExist
	if s.hooks.CreationTest != nil {
		allowed = s.hooks.CreationTest(ctx, in, allowed)
	}
	if !allowed {
		return nil, ErrCannotAuthorize
	}

	login, err := s.UniqueLogin(ctx, in.Login)
	if err != nil {
		return nil, err
	}
	in.Login = login

	if s.hooks.AlterUserData != nil {
		in = s.hooks.AlterUserData(in)
	}
	if in.PasswordHash == "" {
		if in.PasswordHash, err = RandomPasswordHash(); err != nil {
			return nil, &Error{Code: ErrFailedCreation.Code, Message: ErrFailedCreation.Message, Err: err}
		}
	}

	u, err := s.dir.Create(ctx, in)
	if err != nil {
		return nil, &Error{Code: ErrFailedCreation.Code, Message: ErrFailedCreation.Message, Err: err}
	}
	if err := s.dir.SetMeta(ctx, u.ID, MetaSubject, sub); err != nil {
		return nil, err
	}

	log.Info("new user created", logger.UserID(u.ID), logger.String("login", u.Login), logger.Category("success"))
	s.bus.Publish(ctx, audit.Event{Kind: audit.UserCreated, UserID: u.ID})
	return u, nil
}

// LinkExisting asocia sub a la cuenta id. Si la cuenta ya tiene el mismo sub
// no hace nada; si tiene otro, falla con ErrUserLink.
func (s *Service) LinkExisting(ctx context.Context, id, sub string) (*User, error) {
	current, err := s.Subject(ctx, id)
	if err != nil {
		return nil, err
	}
	if current != "" {
		if current != sub {
			logger.From(ctx).Warn("user already linked to a different subject",
				logger.UserID(id), logger.Sub(sub), logger.Category("user_link_error"))
			return nil, ErrUserLink
		}
		return s.dir.FindByID(ctx, id)
	}

	if err := s.dir.SetMeta(ctx, id, MetaSubject, sub); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, audit.Event{Kind: audit.UserUpdated, UserID: id})
	return s.dir.FindByID(ctx, id)
}

// GrantRole agrega role a la cuenta si todavía no lo tiene. Falla con
// ErrUnknownRole si el rol no está en la tabla.
func (s *Service) GrantRole(ctx context.Context, u *User, role string) error {
	if !s.roles.Exists(role) {
		return ErrUnknownRole
	}
	if u.HasRole(role) {
		return nil
	}
	if err := s.dir.AddRole(ctx, u.ID, role); err != nil {
		return err
	}
	u.Roles = append(u.Roles, role)
	return nil
}

// Subject retorna el sub vinculado a la cuenta ("" si no tiene).
func (s *Service) Subject(ctx context.Context, id string) (string, error) {
	v, _, err := s.dir.GetMeta(ctx, id, MetaSubject)
	return v, err
}

// Unlink borra el sub vinculado. Retorna false si no había vínculo.
func (s *Service) Unlink(ctx context.Context, id string) (bool, error) {
	cur, err := s.Subject(ctx, id)
	if err != nil {
		return false, err
	}
	if cur == "" {
		return false, nil
	}
	return true, s.dir.DeleteMeta(ctx, id, MetaSubject)
}

// UniqueLogin prueba login, login2, login3, ... hasta MaxLoginProbes.
func (s *Service) UniqueLogin(ctx context.Context, login string) (string, error) {
	candidate := login
	for i := 1; i <= MaxLoginProbes; i++ {
		if i > 1 {
			candidate = login + strconv.Itoa(i)
		}
		taken, err := s.dir.LoginExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrUsernameUnavailable
}

// ignoredClaims no se guardan como metadata.
var ignoredClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "iat": true, "jti": true,
	"auth_time": true, "nonce": true, "acr": true, "amr": true, "azp": true,
}

// SaveExtraClaims guarda cada claim no estándar como MetaClaimPrefix+key.
// Los valores no string se guardan como JSON.
func (s *Service) SaveExtraClaims(ctx context.Context, id string, claims map[string]any) error {
	log := logger.From(ctx).With(logger.Layer("users"), logger.Op("SaveExtraClaims"))
	for k, v := range claims {
		if ignoredClaims[k] {
			continue
		}
		val, ok := v.(string)
		if !ok {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			val = string(b)
		}
		if err := s.dir.SetMeta(ctx, id, MetaClaimPrefix+k, val); err != nil {
			return err
		}
		log.Debug("user claim saved as meta", logger.String("key", MetaClaimPrefix+k), logger.Category("user-claims"))
	}
	return nil
}

// UpdateFromClaims completa nombre y apellido si están vacíos y actualiza el
// email si cambió.
func (s *Service) UpdateFromClaims(ctx context.Context, u *User, claims map[string]any) error {
	log := logger.From(ctx).With(logger.Layer("users"), logger.Op("UpdateFromClaims"), logger.UserID(u.ID))
	changed := false

	if v, ok := claims["given_name"].(string); ok && v != "" && u.FirstName == "" {
		u.FirstName = v
		changed = true
	}
	if v, ok := claims["family_name"].(string); ok && v != "" && u.LastName == "" {
		u.LastName = v
		changed = true
	}
	if v, ok := claims["email"].(string); ok && v != "" && v != u.Email {
		log.Info("user email updated", logger.String("from", logger.MaskEmail(u.Email)), logger.Email(v), logger.Category("user-claims"))
		u.Email = v
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.dir.Update(ctx, u); err != nil {
		return err
	}
	s.bus.Publish(ctx, audit.Event{Kind: audit.UserUpdated, UserID: u.ID})
	return nil
}

// RecordLogin guarda la hora de login y limpia el flag de invitado sin uso.
func (s *Service) RecordLogin(ctx context.Context, id string) error {
	if err := s.dir.DeleteMeta(ctx, id, MetaInvitedUnused); err != nil {
		return err
	}
	return s.dir.SetMeta(ctx, id, MetaLastLogin, strconv.FormatInt(s.now().Unix(), 10))
}

// SetLastToken guarda el último token recibido (codificado).
func (s *Service) SetLastToken(ctx context.Context, id, token string) error {
	return s.dir.SetMeta(ctx, id, MetaLastToken, token)
}

// SetInviteCreated guarda el evento invite-created como JSON.
func (s *Service) SetInviteCreated(ctx context.Context, id string, event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.dir.SetMeta(ctx, id, MetaInviteCreated, string(b))
}

// SetInvitedUnused marca la cuenta como invitada y nunca usada.
func (s *Service) SetInvitedUnused(ctx context.Context, id string) error {
	return s.dir.SetMeta(ctx, id, MetaInvitedUnused, "1")
}

// IsInvitedUnused reporta el flag de invitado sin uso.
func (s *Service) IsInvitedUnused(ctx context.Context, id string) (bool, error) {
	v, ok, err := s.dir.GetMeta(ctx, id, MetaInvitedUnused)
	if err != nil {
		return false, err
	}
	return ok && v == "1", nil
}
