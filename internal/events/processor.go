package events

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dropDatabas3/hellologin/internal/federation"
	"github.com/dropDatabas3/hellologin/internal/metrics"
	"github.com/dropDatabas3/hellologin/internal/observability/logger"
	"github.com/dropDatabas3/hellologin/internal/oidc"
	"github.com/dropDatabas3/hellologin/internal/users"
)

// Settings es la configuración que necesita el Processor.
type Settings struct {
	ClientID      string
	EndpointLogin string
}

// Deps agrupa las dependencias del Processor.
type Deps struct {
	Settings   func() Settings
	Users      *users.Service
	Federation *federation.Registry
	// Verifier es opcional; si está, la firma del SET se verifica antes de
	// decodificar.
	Verifier *oidc.Verifier
}

// Processor procesa SETs.
type Processor struct {
	settings   func() Settings
	users      *users.Service
	federation *federation.Registry
	verifier   *oidc.Verifier
}

func NewProcessor(d Deps) *Processor {
	return &Processor{
		settings:   d.Settings,
		users:      d.Users,
		federation: d.Federation,
		verifier:   d.Verifier,
	}
}

// Handle ejecuta el pipeline completo sobre r y retorna el status a
// responder. El error, si hay, es el motivo (ya logueado).
func (p *Processor) Handle(ctx context.Context, r *http.Request) (int, error) {
	log := logger.From(ctx).With(logger.Layer("events"), logger.Op("Handle"))

	if err := ValidateRequest(r); err != nil {
		return p.fail(ctx, "", err)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return p.fail(ctx, "", statusErr(http.StatusBadRequest, "read body", err))
	}
	if len(body) > MaxBodyBytes {
		return p.fail(ctx, "", statusErr(http.StatusRequestEntityTooLarge, "body too large", nil))
	}
	raw := string(body)

	if p.verifier != nil {
		if err := p.verifier.Verify(raw); err != nil {
			return p.fail(ctx, "", statusErr(http.StatusBadRequest, "invalid signature", err))
		}
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		return p.fail(ctx, "", err)
	}
	cfg := p.settings()
	if err := ValidateEvent(ev, cfg.EndpointLogin, cfg.ClientID); err != nil {
		return p.fail(ctx, "", err)
	}

	log.Info("event received", logger.Sub(ev.Subject()), logger.Category("events"))
	return p.Dispatch(ctx, ev, raw)
}

func (p *Processor) fail(ctx context.Context, eventType string, err error) (int, error) {
	status := http.StatusInternalServerError
	var se *StatusError
	if errors.As(err, &se) {
		status = se.Status
	}
	logger.From(ctx).Warn("event rejected",
		logger.EventType(eventType), logger.Status(status), logger.Err(err), logger.Category("events"))
	metrics.Event(eventType, status)
	return status, err
}

// Dispatch procesa cada sub-evento. El primer fallo corta el resto y define
// el status. Los tipos desconocidos o no implementados solo se loguean.
func (p *Processor) Dispatch(ctx context.Context, ev SecurityEvent, raw string) (int, error) {
	log := logger.From(ctx).With(logger.Layer("events"), logger.Op("Dispatch"))

	for typ, sub := range ev.Events() {
		var err error
		switch typ {
		case InviteCreated:
			err = p.inviteCreated(ctx, ev, sub, raw)
		case InviteRetracted:
			err = p.deleteUnusedInvited(ctx, ev.Subject(), "retracted")
		case InviteDeclined:
			err = p.deleteUnusedInvited(ctx, ev.Subject(), "declined")
		case FederationGroupsSync:
			err = p.groupsSync(ctx, sub)
		case FederationUserSync, FederationUserDisable:
			log.Info("event type not implemented", logger.EventType(typ), logger.Category("events"))
			continue
		default:
			log.Info("unknown event type", logger.EventType(typ), logger.Category("events"))
			continue
		}
		if err != nil {
			return p.fail(ctx, typ, err)
		}
		metrics.Event(typ, http.StatusAccepted)
	}
	return http.StatusAccepted, nil
}

func (p *Processor) inviteCreated(ctx context.Context, ev SecurityEvent, sub map[string]any, raw string) error {
	log := logger.From(ctx).With(logger.Layer("events"), logger.Op("inviteCreated"))
	dir := p.users.Directory()
	roles := p.users.Roles()

	role, _ := sub["role"].(string)
	if !roles.Exists(role) {
		return statusErr(http.StatusNotFound, "role not found: "+role, nil)
	}

	var inviterSub string
	if inv, ok := sub["inviter"].(map[string]any); ok {
		inviterSub, _ = inv["sub"].(string)
	}
	inviter, err := dir.FindBySubject(ctx, inviterSub)
	if errors.Is(err, users.ErrNotFound) {
		return statusErr(http.StatusNotFound, "inviter not found: "+inviterSub, nil)
	}
	if err != nil {
		return statusErr(http.StatusInternalServerError, "inviter lookup", err)
	}
	if !roles.Can(inviter, users.CapCreateUsers) {
		return statusErr(http.StatusForbidden, "inviter with no create_users: "+inviterSub, nil)
	}
	if !roles.Can(inviter, users.CapPromoteUsers) && role != users.RoleSubscriber {
		return statusErr(http.StatusForbidden, "inviter cannot promote users: "+inviterSub+", role: "+role, nil)
	}

	invitee, err := dir.FindBySubject(ctx, ev.Subject())
	switch {
	case err == nil:
		if err := p.users.GrantRole(ctx, invitee, role); err != nil {
			return statusErr(http.StatusInternalServerError, "add role", err)
		}
		if err := p.users.SetInviteCreated(ctx, invitee.ID, ev); err != nil {
			return statusErr(http.StatusInternalServerError, "save invite", err)
		}
		if err := p.users.SetLastToken(ctx, invitee.ID, raw); err != nil {
			return statusErr(http.StatusInternalServerError, "save token", err)
		}
		log.Info("invite for existing user", logger.UserID(invitee.ID), logger.Category("invites"))
		return nil
	case !errors.Is(err, users.ErrNotFound):
		return statusErr(http.StatusInternalServerError, "invitee lookup", err)
	}

	email := ev.Email()
	_, emailErr := dir.FindByEmail(ctx, email)
	brandNew := errors.Is(emailErr, users.ErrNotFound)

	u, err := p.users.CreateOrLink(ctx, ev.Subject(), users.CreateInput{
		Login: email,
		Email: email,
		Role:  role,
	}, true)
	if err != nil {
		return statusErr(http.StatusBadRequest, "user creation failed", err)
	}

	if err := p.users.SetLastToken(ctx, u.ID, raw); err != nil {
		return statusErr(http.StatusInternalServerError, "save token", err)
	}
	if err := p.users.SetInviteCreated(ctx, u.ID, ev); err != nil {
		return statusErr(http.StatusInternalServerError, "save invite", err)
	}
	if brandNew {
		if err := p.users.SetInvitedUnused(ctx, u.ID); err != nil {
			return statusErr(http.StatusInternalServerError, "mark invited", err)
		}
	}
	log.Info("invited user ready", logger.UserID(u.ID), logger.Email(email), logger.Bool("new", brandNew), logger.Category("invites"))
	return nil
}

func (p *Processor) deleteUnusedInvited(ctx context.Context, sub, kind string) error {
	log := logger.From(ctx).With(logger.Layer("events"), logger.Op("deleteUnusedInvited"), logger.Sub(sub))
	dir := p.users.Directory()

	u, err := dir.FindBySubject(ctx, sub)
	if errors.Is(err, users.ErrNotFound) {
		return statusErr(http.StatusNotFound, "cannot handle invite "+kind+", user not found", nil)
	}
	if err != nil {
		return statusErr(http.StatusInternalServerError, "user lookup", err)
	}

	unused, err := p.users.IsInvitedUnused(ctx, u.ID)
	if err != nil {
		return statusErr(http.StatusInternalServerError, "invited flag", err)
	}
	if !unused {
		return statusErr(http.StatusConflict, "cannot delete used user on invite "+kind, nil)
	}
	if err := dir.Delete(ctx, u.ID); err != nil {
		return statusErr(http.StatusInternalServerError, "failed deleting unused user", err)
	}
	log.Info("deleted unused user on invite "+kind, logger.UserID(u.ID), logger.Category("invites"))
	return nil
}

func (p *Processor) groupsSync(ctx context.Context, sub map[string]any) error {
	err := p.federation.SyncEvent(ctx, sub)
	var ve *federation.ValidationError
	if errors.As(err, &ve) {
		return statusErr(http.StatusBadRequest, ve.Code, err)
	}
	if err != nil {
		return statusErr(http.StatusInternalServerError, "federation sync", err)
	}
	return nil
}
