package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellologin/internal/federation"
	"github.com/dropDatabas3/hellologin/internal/users"
)

const (
	inviterSub = "59a27193-e919-462b-a324-4158d5ad372d"
	inviteeSub = "e665c1ff-9905-4485-af8c-83f88c5132ae"
)

type fixture struct {
	proc     *Processor
	svc      *users.Service
	dir      *users.MemoryDirectory
	registry *federation.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := users.NewMemoryDirectory()
	svc := users.NewService(users.ServiceDeps{Directory: dir})
	reg := federation.NewRegistry(federation.NewMemoryStore())
	proc := NewProcessor(Deps{
		Settings: func() Settings {
			return Settings{ClientID: testClientID, EndpointLogin: testEndpointLogin}
		},
		Users:      svc,
		Federation: reg,
	})
	return &fixture{proc: proc, svc: svc, dir: dir, registry: reg}
}

// addLinked crea una cuenta vinculada a sub con el rol dado.
func (f *fixture) addLinked(t *testing.T, login, email, role, sub string) *users.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.dir.Create(ctx, users.CreateInput{Login: login, Email: email, Role: role})
	require.NoError(t, err)
	require.NoError(t, f.dir.SetMeta(ctx, u.ID, users.MetaSubject, sub))
	return u
}

func setToken(t *testing.T, events map[string]any) string {
	t.Helper()
	payload := map[string]any{
		"iss":    "https://issuer.hello.coop",
		"aud":    testClientID,
		"sub":    inviteeSub,
		"email":  "johnsmith@example.com",
		"iat":    1679103692,
		"events": events,
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return "head." + base64.RawURLEncoding.EncodeToString(b) + ".sign"
}

func inviteEvent(role string) map[string]any {
	return map[string]any{InviteCreated: map[string]any{
		"inviter": map[string]any{"sub": inviterSub},
		"role":    role,
	}}
}

func (f *fixture) post(t *testing.T, token string) int {
	t.Helper()
	r := eventRequest(http.MethodPost, token, nil)
	status, _ := f.proc.Handle(context.Background(), r)
	return status
}

func TestHandle_RejectsBadRequest(t *testing.T) {
	f := newFixture(t)

	r := eventRequest(http.MethodGet, "", nil)
	status, err := f.proc.Handle(context.Background(), r)
	require.Error(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "not-a-jwt"))
}

func TestHandle_RejectsWrongAudience(t *testing.T) {
	f := newFixture(t)
	b, _ := json.Marshal(map[string]any{"iss": "https://issuer.hello.coop", "aud": "other"})
	token := "h." + base64.RawURLEncoding.EncodeToString(b) + ".s"
	assert.Equal(t, http.StatusBadRequest, f.post(t, token))
}

func TestHandle_UnknownEventAccepted(t *testing.T) {
	f := newFixture(t)
	token := setToken(t, map[string]any{"https://example.com/unknown": map[string]any{}})
	assert.Equal(t, http.StatusAccepted, f.post(t, token))

	token = setToken(t, map[string]any{FederationUserDisable: map[string]any{}})
	assert.Equal(t, http.StatusAccepted, f.post(t, token))
}

func TestInviteCreated_Failures(t *testing.T) {
	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t)
		f.addLinked(t, "admin", "admin@example.com", users.RoleAdministrator, inviterSub)
		assert.Equal(t, http.StatusNotFound, f.post(t, setToken(t, inviteEvent("pirate"))))
	})
	t.Run("unknown inviter", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusNotFound, f.post(t, setToken(t, inviteEvent(users.RoleSubscriber))))
	})
	t.Run("inviter cannot create", func(t *testing.T) {
		f := newFixture(t)
		f.addLinked(t, "sub", "sub@example.com", users.RoleSubscriber, inviterSub)
		assert.Equal(t, http.StatusForbidden, f.post(t, setToken(t, inviteEvent(users.RoleSubscriber))))
	})
	t.Run("inviter cannot promote", func(t *testing.T) {
		f := newFixture(t)
		roles := users.RoleTable{
			"manager":               {users.CapCreateUsers},
			users.RoleSubscriber:    {},
			users.RoleEditor:        {},
			users.RoleAdministrator: {users.CapCreateUsers, users.CapPromoteUsers},
		}
		f.svc = users.NewService(users.ServiceDeps{Directory: f.dir, Roles: roles})
		f.proc.users = f.svc
		f.addLinked(t, "mgr", "mgr@example.com", "manager", inviterSub)

		assert.Equal(t, http.StatusForbidden, f.post(t, setToken(t, inviteEvent(users.RoleEditor))))
		// Subscriber no requiere promote_users.
		assert.Equal(t, http.StatusAccepted, f.post(t, setToken(t, inviteEvent(users.RoleSubscriber))))
	})
}

func TestInviteCreated_CreatesInvitedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLinked(t, "admin", "admin@example.com", users.RoleAdministrator, inviterSub)

	token := setToken(t, inviteEvent(users.RoleEditor))
	require.Equal(t, http.StatusAccepted, f.post(t, token))

	u, err := f.dir.FindBySubject(ctx, inviteeSub)
	require.NoError(t, err)
	assert.Equal(t, "johnsmith@example.com", u.Login)
	assert.True(t, u.HasRole(users.RoleEditor))

	unused, err := f.svc.IsInvitedUnused(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, unused)

	last, ok, err := f.dir.GetMeta(ctx, u.ID, users.MetaLastToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, last)

	_, ok, err = f.dir.GetMeta(ctx, u.ID, users.MetaInviteCreated)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInviteCreated_LinksExistingEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLinked(t, "admin", "admin@example.com", users.RoleAdministrator, inviterSub)
	existing, err := f.dir.Create(ctx, users.CreateInput{Login: "john", Email: "JohnSmith@example.com", Role: users.RoleSubscriber})
	require.NoError(t, err)

	require.Equal(t, http.StatusAccepted, f.post(t, setToken(t, inviteEvent(users.RoleSubscriber))))

	u, err := f.dir.FindBySubject(ctx, inviteeSub)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, u.ID)
	unused, err := f.svc.IsInvitedUnused(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, unused, "a linked pre-existing account is not an unused invite")
}

func TestInviteCreated_ExistingInviteeGetsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addLinked(t, "admin", "admin@example.com", users.RoleAdministrator, inviterSub)
	invitee := f.addLinked(t, "john", "johnsmith@example.com", users.RoleSubscriber, inviteeSub)

	require.Equal(t, http.StatusAccepted, f.post(t, setToken(t, inviteEvent(users.RoleAuthor))))

	u, err := f.dir.FindByID(ctx, invitee.ID)
	require.NoError(t, err)
	assert.True(t, u.HasRole(users.RoleSubscriber))
	assert.True(t, u.HasRole(users.RoleAuthor))
}

func TestInviteRetracted(t *testing.T) {
	retracted := map[string]any{InviteRetracted: map[string]any{}}

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusNotFound, f.post(t, setToken(t, retracted)))
	})
	t.Run("used account", func(t *testing.T) {
		f := newFixture(t)
		f.addLinked(t, "john", "johnsmith@example.com", users.RoleSubscriber, inviteeSub)
		assert.Equal(t, http.StatusConflict, f.post(t, setToken(t, retracted)))
	})
	t.Run("unused invite deleted", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		u := f.addLinked(t, "john", "johnsmith@example.com", users.RoleSubscriber, inviteeSub)
		require.NoError(t, f.svc.SetInvitedUnused(ctx, u.ID))

		assert.Equal(t, http.StatusAccepted, f.post(t, setToken(t, retracted)))
		_, err := f.dir.FindByID(ctx, u.ID)
		assert.ErrorIs(t, err, users.ErrNotFound)
	})
}

func TestInviteDeclined_AfterLoginKeepsUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addLinked(t, "john", "johnsmith@example.com", users.RoleSubscriber, inviteeSub)
	require.NoError(t, f.svc.SetInvitedUnused(ctx, u.ID))
	require.NoError(t, f.svc.RecordLogin(ctx, u.ID))

	declined := map[string]any{InviteDeclined: map[string]any{}}
	assert.Equal(t, http.StatusConflict, f.post(t, setToken(t, declined)))
	_, err := f.dir.FindByID(ctx, u.ID)
	assert.NoError(t, err)
}

func TestGroupsSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := map[string]any{FederationGroupsSync: map[string]any{"org": "acme", "groups": "nope"}}
	assert.Equal(t, http.StatusBadRequest, f.post(t, setToken(t, bad)))

	good := map[string]any{FederationGroupsSync: map[string]any{
		"org": "acme",
		"groups": []any{
			map[string]any{"value": "eng", "display": "Engineering"},
			map[string]any{"value": "ops"},
		},
	}}
	require.Equal(t, http.StatusAccepted, f.post(t, setToken(t, good)))

	orgs, err := f.registry.GetOrgsGroups(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "acme", orgs[0].Org)
	require.Len(t, orgs[0].Groups, 2)
	assert.Equal(t, "Engineering", orgs[0].Groups[0].Display)
}

func TestDispatch_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ev := SecurityEvent{
		"sub": inviteeSub,
		"events": map[string]any{
			InviteRetracted: map[string]any{},
		},
	}
	status, err := f.proc.Dispatch(context.Background(), ev, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, strings.Contains(err.Error(), "user not found"))

}
