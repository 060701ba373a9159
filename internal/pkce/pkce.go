// Package pkce genera pares verifier/challenge (RFC 7636, método S256).
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// MethodS256 es el único code_challenge_method soportado.
const MethodS256 = "S256"

// VerifierBytes es la cantidad de bytes aleatorios del verifier antes de codificar.
const VerifierBytes = 64

// ErrRandomUnavailable indica que no hay fuente segura de aleatoriedad.
// Es un error de configuración: el request debe abortarse.
var ErrRandomUnavailable = errors.New("pkce: secure random source unavailable")

// Pair es un par PKCE listo para usar en el authorization request.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// Generator produce pares PKCE. El zero value no es válido, usar New.
type Generator struct {
	rand io.Reader
}

// New crea un Generator sobre crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader permite inyectar la fuente de aleatoriedad (tests).
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate produce 64 bytes aleatorios, los codifica base64url sin padding
// (verifier) y deriva el challenge como SHA-256 del verifier codificado.
func (g *Generator) Generate() (Pair, error) {
	b := make([]byte, VerifierBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(b)
	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

// Challenge calcula el S256 challenge de un verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
