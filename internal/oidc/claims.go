package oidc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims es el payload decodificado de un ID token.
type Claims map[string]any

// Subject retorna el claim sub o "" si falta o no es string.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// String retorna un claim como string. Los números y booleanos se formatean;
// objetos y arrays no se consideran strings.
func (c Claims) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}
	return stringify(v)
}

// Lookup resuelve un claim simple o, si no existe, uno agregado:
// _claim_names[key] -> _claim_sources[src].JWT -> payload[key].
// El JWT de la fuente no se verifica.
func (c Claims) Lookup(key string) (string, bool) {
	if v, ok := c[key]; ok {
		return stringify(v)
	}

	names, ok := c["_claim_names"].(map[string]any)
	if !ok {
		return "", false
	}
	sources, ok := c["_claim_sources"].(map[string]any)
	if !ok {
		return "", false
	}
	srcName, ok := names[key].(string)
	if !ok {
		return "", false
	}
	src, ok := sources[srcName].(map[string]any)
	if !ok {
		return "", false
	}
	raw, ok := src["JWT"].(string)
	if !ok {
		return "", false
	}

	payload, err := decodePayload(raw, 2)
	if err != nil {
		return "", false
	}
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	return stringify(v)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "1", true
		}
		return "", true
	case float64, json.Number, int, int64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

// decodePayload decodifica el segmento central de un JWT compacto sin
// verificar la firma. minParts es la cantidad mínima de segmentos exigida.
func decodePayload(token string, minParts int) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) < minParts {
		return nil, errNotEnoughParts
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBase64, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return nil, errNotJSONObject
	}
	return payload, nil
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// decodeSegment acepta base64url con o sin padding, y también el alfabeto
// estándar (+ /) que algunos emisores usan por error.
func decodeSegment(seg string) ([]byte, error) {
	seg = strings.NewReplacer("+", "-", "/", "_").Replace(seg)
	return segmentParser.DecodeSegment(seg)
}

// DecodeJWTPayload decodifica el payload de un JWT compacto de exactamente
// tres segmentos, sin verificar la firma.
func DecodeJWTPayload(token string) (map[string]any, error) {
	if strings.Count(token, ".") != 2 {
		return nil, errNotEnoughParts
	}
	return decodePayload(token, 3)
}

// Errores de decodificación estructural.
var (
	errNotEnoughParts = decodeError("not 3 parts")
	errBase64         = decodeError("base64 decode failed")
	errNotJSONObject  = decodeError("json decode failed")
)

type decodeError string

func (e decodeError) Error() string { return string(e) }

// Errores exportados para quienes necesitan distinguir la causa.
var (
	ErrJWTParts  error = errNotEnoughParts
	ErrJWTBase64 error = errBase64
	ErrJWTJSON   error = errNotJSONObject
)
