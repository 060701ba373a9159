package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "https://wallet.hello.coop/authorize", c.Hello.EndpointLogin)
	assert.Equal(t, 600*time.Second, c.Hello.StateTTL())
	assert.Equal(t, 5*time.Second, c.Hello.RequestTimeout())
	assert.True(t, c.Hello.LinkExistingUsers)
	assert.True(t, c.Hello.CreateIfNotExists)
	assert.Equal(t, "{name}", c.Hello.DisplayNameFormat)
	assert.Equal(t, 1000, c.Log.Limit)
}

func TestLoad_YAMLAndClamp(t *testing.T) {
	p := writeYAML(t, `
hello:
  client_id: abc
  state_time_limit: 10
  link_existing_users: false
cache:
  kind: redis
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.Hello.ClientID)
	assert.Equal(t, MinStateTimeLimit, c.Hello.StateTimeLimit)
	assert.False(t, c.Hello.LinkExistingUsers)
	assert.True(t, c.Hello.CreateIfNotExists)
	assert.Equal(t, "redis", c.Cache.Kind)
}

func TestLoad_EnvOverridesAreTracked(t *testing.T) {
	p := writeYAML(t, "hello:\n  client_id: from-yaml\n")
	t.Setenv("HELLO_LOGIN_CLIENT_ID", "from-env")
	t.Setenv("HELLO_LOGIN_REDIRECT_USER_BACK", "false")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Hello.ClientID)
	assert.False(t, c.Hello.RedirectUserBack)
	assert.True(t, c.Overridden("client_id"))
	assert.True(t, c.Overridden("redirect_user_back"))
	assert.False(t, c.Overridden("scope"))
	assert.Equal(t, "from-yaml", c.HelloBase().ClientID)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeYAML(t, "users:\n  driver: postgres\n"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "cache:\n  kind: memcached\n"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "security:\n  verify_signatures: true\n"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "app:\n  app_env: prod\n"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "session:\n  ttl: soon\n"))
	assert.Error(t, err)

	_, err = Load(writeYAML(t, "hello:\n  scope: \"nickname Bad;scope\"\n"))
	assert.ErrorContains(t, err, "Bad;scope")
}

func TestSettingsStore_PersistsWithoutEnvValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "settings.yaml")
	s, err := NewSettingsStore(path, DefaultSettings())
	require.NoError(t, err)

	t.Setenv("HELLO_LOGIN_SCOPE", "nickname")
	require.NoError(t, s.Update(func(st *Settings) { st.ClientID = "cid" }))

	got := s.Get()
	assert.Equal(t, "cid", got.ClientID)
	assert.Equal(t, "nickname", got.Scope)
	assert.True(t, s.Overridden("scope"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "client_id: cid")
	assert.NotContains(t, string(raw), "nickname")

	// Reabrir lee lo persistido.
	again, err := NewSettingsStore(path, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "cid", again.Get().ClientID)
}

func TestSettingsStore_PersistsOnlyCustomScopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := NewSettingsStore(path, DefaultSettings())
	require.NoError(t, err)

	require.NoError(t, s.Update(func(st *Settings) { st.Scope = "openid nickname email phone nickname name" }))
	assert.Equal(t, "nickname phone", s.Get().Scope)

	again, err := NewSettingsStore(path, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "nickname phone", again.Get().Scope)
}
