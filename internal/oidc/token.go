package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// TokenResponse es la respuesta del token endpoint.
type TokenResponse struct {
	IDToken          string `json:"id_token"`
	TokenType        string `json:"token_type"`
	AccessToken      string `json:"access_token,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ParseTokenResponse decodifica la respuesta cruda. Si el Provider devolvió
// error, se retorna con su propio código y descripción.
func ParseTokenResponse(raw *RawTokenResult) (TokenResponse, error) {
	if raw == nil || len(raw.Body) == 0 {
		return TokenResponse{}, ErrMissingBody
	}

	var fields map[string]any
	if err := json.Unmarshal(raw.Body, &fields); err != nil || fields == nil {
		return TokenResponse{}, ErrInvalidToken.withCause(err)
	}

	str := func(k string) string {
		s, _ := fields[k].(string)
		return s
	}
	tr := TokenResponse{
		IDToken:          str("id_token"),
		TokenType:        str("token_type"),
		AccessToken:      str("access_token"),
		Error:            str("error"),
		ErrorDescription: str("error_description"),
	}
	if _, hasErr := fields["error"]; hasErr {
		return tr, providerError(tr.Error, tr.ErrorDescription)
	}
	return tr, nil
}

// ValidateTokenResponse exige id_token y token_type "Bearer" (sin importar
// mayúsculas).
func ValidateTokenResponse(tr TokenResponse) error {
	if tr.IDToken == "" || !strings.EqualFold(tr.TokenType, "Bearer") {
		return ErrInvalidTokenResp
	}
	return nil
}

// DecodeIDToken decodifica el payload del ID token. Si hay Verifier
// configurado, primero verifica la firma.
func (c *Client) DecodeIDToken(tr TokenResponse) (Claims, error) {
	if strings.Count(tr.IDToken, ".") < 1 {
		return nil, ErrMissingIDToken
	}
	if c.verifier != nil {
		if err := c.verifier.Verify(tr.IDToken); err != nil {
			return nil, err
		}
	}

	payload, err := decodePayload(tr.IDToken, 2)
	if err != nil {
		if errors.Is(err, errNotEnoughParts) {
			return nil, ErrMissingIDToken
		}
		return nil, ErrInvalidIDClaim.withCause(err)
	}
	return Claims(payload), nil
}

// ValidateIDTokenClaim valida sub, error embebido, acr y la política de login.
func (c *Client) ValidateIDTokenClaim(ctx context.Context, claims Claims) error {
	if claims == nil {
		return ErrInvalidIDClaim
	}
	if claims.Subject() == "" {
		return ErrNoSubjectIdentity
	}

	if e, ok := claims.String("error"); ok && e != "" {
		msg := "Error from the IDP."
		if d, ok := claims.String("error_description"); ok && d != "" {
			msg = d
		}
		return &Error{Kind: KindClaim, Code: "invalid-id-token-claim-" + e, Message: msg}
	}

	if acr := c.settings().AcrValues; acr != "" {
		if got, ok := claims.String("acr"); ok && got != acr {
			return ErrAcrMismatch
		}
	}

	if !c.policy(ctx, claims) {
		return ErrUnauthorized
	}
	return nil
}
