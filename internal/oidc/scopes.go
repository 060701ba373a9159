package oidc

import (
	"net/url"
	"slices"
	"strings"
)

// DefaultScopes siempre se piden al Provider.
var DefaultScopes = []string{"openid", "email", "name"}

// ScopeSetUpdateEmail pide solo lo necesario para actualizar el email.
const ScopeSetUpdateEmail = "update_email"

const updateEmailScope = "openid profile_update email"

// AddDefaultScopes agrega los scopes por defecto que falten, preservando
// el orden de la primera aparición. Es idempotente.
func AddDefaultScopes(scope string) string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return strings.Join(DefaultScopes, " ")
	}
	for _, ds := range DefaultScopes {
		if !slices.Contains(fields, ds) {
			fields = append(fields, ds)
		}
	}
	return strings.Join(fields, " ")
}

// RemoveDefaultScopes quita los scopes por defecto de la lista.
func RemoveDefaultScopes(scope string) string {
	out := make([]string, 0)
	for _, s := range strings.Fields(scope) {
		if !slices.Contains(DefaultScopes, s) {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

// RemoveDuplicateScopes deja la primera aparición de cada scope.
func RemoveDuplicateScopes(scope string) string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range strings.Fields(scope) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

// ScopeFor retorna el scope a pedir según el scope_set.
func ScopeFor(scopeSet, configured string) string {
	if scopeSet == ScopeSetUpdateEmail {
		return updateEmailScope
	}
	return AddDefaultScopes(configured)
}

// ExtractPathAndQuery retorna path, query y fragment de una URL ("/" si no
// tiene path).
func ExtractPathAndQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}

	result := "/"
	if p := u.EscapedPath(); p != "" {
		result = p
	}
	if u.RawQuery != "" || u.ForceQuery {
		result += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		result += "#" + u.EscapedFragment()
	}
	return result
}

// HelloIssuer deriva el issuer esperado de los security events a partir del
// login endpoint: el label "wallet." del host pasa a ser "issuer.".
func HelloIssuer(endpointLogin string) string {
	u, err := url.Parse(endpointLogin)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if strings.HasPrefix(host, "wallet.") {
		host = "issuer." + strings.TrimPrefix(host, "wallet.")
	}
	return u.Scheme + "://" + host
}

// IsLocalURL reporta si target apunta al mismo origen que siteURL.
// Los paths relativos ("/x") se consideran locales; "//host" no.
func IsLocalURL(target, siteURL string) bool {
	if target == "" {
		return true
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	if t.Scheme == "" && t.Host == "" {
		return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
	}
	site, err := url.Parse(siteURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(t.Scheme, site.Scheme) && strings.EqualFold(t.Host, site.Host)
}
