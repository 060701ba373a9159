package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddDefaultScopes(t *testing.T) {
	cases := map[string]string{
		"":                      "openid email name",
		" name ":                "name openid email",
		"nickname email":        "nickname email openid name",
		"openid email name":     "openid email name",
		"profile  picture":      "profile picture openid email name",
		"email openid nickname": "email openid nickname name",
	}
	for in, want := range cases {
		assert.Equal(t, want, AddDefaultScopes(in), "input %q", in)
	}
}

func TestAddDefaultScopes_Idempotent(t *testing.T) {
	inputs := []string{"", "a", "a a", "name", "openid openid", "  x  y  ", "email nickname profile", "\topenid\n"}
	for _, s := range inputs {
		once := AddDefaultScopes(s)
		assert.Equal(t, once, AddDefaultScopes(once), "input %q", s)
	}
}

func TestRemoveDefaultScopes(t *testing.T) {
	assert.Equal(t, "", RemoveDefaultScopes(""))
	assert.Equal(t, "nickname", RemoveDefaultScopes("openid nickname email name"))
	assert.Equal(t, "profile phone", RemoveDefaultScopes(" profile phone "))
}

func TestRemoveDuplicateScopes(t *testing.T) {
	assert.Equal(t, "", RemoveDuplicateScopes("   "))
	assert.Equal(t, "openid email name", RemoveDuplicateScopes("openid email openid name email"))
}

func TestScopeFor(t *testing.T) {
	assert.Equal(t, "openid profile_update email", ScopeFor("update_email", "nickname"))
	assert.Equal(t, "nickname openid email name", ScopeFor("auth", "nickname"))
	assert.Equal(t, "openid email name", ScopeFor("", ""))
}

func TestExtractPathAndQuery(t *testing.T) {
	assert.Equal(t, "/path?n=v", ExtractPathAndQuery("https://example.com/path?n=v"))
	assert.Equal(t, "/", ExtractPathAndQuery("https://example.com"))
	assert.Equal(t, "/a/b#frag", ExtractPathAndQuery("https://example.com/a/b#frag"))
	assert.Equal(t, "/?x=1", ExtractPathAndQuery("https://example.com?x=1"))
}

func TestHelloIssuer(t *testing.T) {
	assert.Equal(t, "https://issuer.hello.coop", HelloIssuer("https://wallet.hello.coop/authorize"))
	assert.Equal(t, "http://issuer.hello.local:8080", HelloIssuer("http://wallet.hello.local:8080/authorize?x=1"))
	assert.Equal(t, "https://login.example.com", HelloIssuer("https://login.example.com/authorize"))
	assert.Equal(t, "", HelloIssuer("not a url"))
}

func TestIsLocalURL(t *testing.T) {
	site := "https://site.test"
	assert.True(t, IsLocalURL("", site))
	assert.True(t, IsLocalURL("/account?x=1", site))
	assert.True(t, IsLocalURL("https://site.test/account", site))
	assert.False(t, IsLocalURL("https://evil.test/account", site))
	assert.False(t, IsLocalURL("//evil.test/account", site))
	assert.False(t, IsLocalURL("javascript:alert(1)", site))
}
