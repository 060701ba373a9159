package oidc

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier verifica la firma de tokens compactos (ID tokens y security
// events). Es opcional: sin Verifier los tokens solo se decodifican.
type Verifier struct {
	keyfunc jwt.Keyfunc
	methods []string
}

// DefaultMethods son los algoritmos aceptados si no se indican otros.
var DefaultMethods = []string{"RS256", "ES256"}

// NewJWKSVerifier crea un Verifier que obtiene las claves del JWKS remoto
// y las refresca en background mientras ctx siga vivo.
func NewJWKSVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("oidc: jwks keyfunc: %w", err)
	}
	return &Verifier{keyfunc: kf.Keyfunc, methods: DefaultMethods}, nil
}

// NewVerifier crea un Verifier con un jwt.Keyfunc arbitrario.
func NewVerifier(kf jwt.Keyfunc, methods ...string) *Verifier {
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	return &Verifier{keyfunc: kf, methods: methods}
}

// Verify valida la firma y el alg del header. Los claims se validan aparte.
func (v *Verifier) Verify(token string) error {
	p := jwt.NewParser(
		jwt.WithValidMethods(v.methods),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := p.Parse(token, v.keyfunc); err != nil {
		return ErrInvalidSignature.withCause(err)
	}
	return nil
}
