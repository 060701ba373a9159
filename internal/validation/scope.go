// Package validation tiene reglas de formato compartidas.
package validation

import (
	"regexp"
	"strings"
)

// Un scope del Provider: minúsculas, empieza y termina en [a-z0-9], en el
// medio admite [a-z0-9:_.-], de 1 a 64 caracteres. Ej: openid, profile_update.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName reporta si name es un nombre de scope aceptable.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// InvalidScopes retorna los scopes de la lista (separada por espacios) que
// no cumplen ValidScopeName.
func InvalidScopes(scope string) []string {
	var bad []string
	for _, s := range strings.Fields(scope) {
		if !ValidScopeName(s) {
			bad = append(bad, s)
		}
	}
	return bad
}
