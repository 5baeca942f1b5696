package qlock

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// SessionClaims are the custom claims embedded in a self-issued QLOCK
// session token, generalizing the teacher's self-signed session JWT
// (subject/email/role/tenant) to a machine session (session/resource/
// wallet) instead of a human login.
type SessionClaims struct {
	SessionID  string `json:"session_id"`
	ResourceID string `json:"resource_id"`
	WalletID   string `json:"wallet_id"`
}

const tokenIssuer = "bpinode-qlock"

// TokenIssuer issues and validates self-signed QLOCK session JWTs with
// HMAC-SHA256, letting a session travel across a process boundary (a
// gateway instance other than the one that admitted the request) without
// a shared session store.
type TokenIssuer struct {
	signingKey []byte
}

// NewTokenIssuer builds a TokenIssuer. The key should be at least 32
// bytes, matching the teacher's own session-secret minimum.
func NewTokenIssuer(signingKey []byte) *TokenIssuer {
	return &TokenIssuer{signingKey: signingKey}
}

// Issue signs a token carrying sess's identity and expiry.
func (ti *TokenIssuer) Issue(sess *Session) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: ti.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	registered := jwt.Claims{
		Subject:  sess.SessionID,
		IssuedAt: jwt.NewNumericDate(sess.IssuedAt),
		Expiry:   jwt.NewNumericDate(sess.ExpiresAt),
		Issuer:   tokenIssuer,
	}
	claims := SessionClaims{SessionID: sess.SessionID, ResourceID: sess.ResourceID, WalletID: sess.WalletID}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Validate verifies signature, issuer, and expiry, returning the embedded
// session claims.
func (ti *TokenIssuer) Validate(raw string, now time.Time) (*SessionClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom SessionClaims
	if err := tok.Claims(ti.signingKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: tokenIssuer,
		Time:   now,
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}
