package login

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dropDatabas3/hellologin/internal/oidc"
)

var (
	formatToken   = regexp.MustCompile(`\{[^}]*\}`)
	htmlTag       = regexp.MustCompile(`<[^>]*>`)
	percentOctet  = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	htmlEntity    = regexp.MustCompile(`&.+?;`)
	invalidLogin  = regexp.MustCompile(`[^a-zA-Z0-9 _.\-@]`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// FormatWithClaims reemplaza cada {clave} de format por el claim
// correspondiente (incluyendo claims agregados). Con strict, una clave sin
// valor falla con ErrIncompleteUserClaim; sin strict se omite.
func FormatWithClaims(format string, claims oidc.Claims, strict bool) (string, error) {
	var b strings.Builder
	last := 0
	for _, loc := range formatToken.FindAllStringIndex(format, -1) {
		b.WriteString(format[last:loc[0]])
		key := format[loc[0]+1 : loc[1]-1]
		v, ok := claims.Lookup(key)
		if !ok {
			if strict {
				return "", ErrIncompleteUserClaim.withCause(missingKey(key))
			}
		} else {
			b.WriteString(v)
		}
		last = loc[1]
	}
	b.WriteString(format[last:])
	return b.String(), nil
}

type missingKey string

func (k missingKey) Error() string {
	return "unable to find key: " + string(k) + " in user claim"
}

// UsernameFromClaims deriva el login deseado: nickname, preferred_username,
// name (sin espacios, en minúsculas) o la parte local del email. Lo anterior
// a '@' se sanitiza.
func UsernameFromClaims(claims oidc.Claims) (string, error) {
	desired, _ := claims.String("nickname")
	if desired == "" {
		desired, _ = claims.String("preferred_username")
	}
	if desired == "" {
		if name, _ := claims.String("name"); name != "" {
			desired = strings.ToLower(strings.ReplaceAll(name, " ", ""))
		}
	}
	if desired == "" {
		if email, _ := claims.String("email"); email != "" {
			desired, _, _ = strings.Cut(email, "@")
		}
	}
	if desired == "" {
		return "", ErrNoUsername
	}

	desired, _, _ = strings.Cut(desired, "@")
	clean := SanitizeLogin(desired)
	if clean == "" {
		return "", &Error{
			Code:    ErrUsernameSanitization.Code,
			Message: "Username " + desired + " could not be sanitized.",
		}
	}
	return clean, nil
}

// NicknameFromClaims retorna nickname o name ("" si no hay ninguno).
func NicknameFromClaims(claims oidc.Claims) string {
	if v, _ := claims.String("nickname"); v != "" {
		return v
	}
	v, _ := claims.String("name")
	return v
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeLogin deja solo caracteres válidos de login: letras ASCII, dígitos,
// espacio, '_', '.', '-' y '@'. Los acentos se pierden, no la letra.
func SanitizeLogin(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = percentOctet.ReplaceAllString(s, "")
	s = htmlEntity.ReplaceAllString(s, "")
	s = invalidLogin.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return repeatedSpace.ReplaceAllString(s, " ")
}
