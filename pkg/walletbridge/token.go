package walletbridge

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// PeerAuthClaims identify a node presenting itself to a remote peer ahead
// of typed registry messaging (spec §4.H), generalizing the teacher's
// self-issued session JWT from a human login to a node-to-node handshake.
type PeerAuthClaims struct {
	NodeID string `json:"node_id"`
	Role   string `json:"role"`
}

const peerAuthIssuer = "bpinode-walletbridge"

// PeerAuthTokenIssuer issues and validates self-signed HMAC-SHA256 JWTs a
// node presents to a remote peer to authenticate before the peer accepts
// its SignedMessage traffic.
type PeerAuthTokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewPeerAuthTokenIssuer builds a PeerAuthTokenIssuer with the given
// token lifetime.
func NewPeerAuthTokenIssuer(signingKey []byte, ttl time.Duration) *PeerAuthTokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PeerAuthTokenIssuer{signingKey: signingKey, ttl: ttl}
}

// Issue signs a peer-auth token for nodeID/role.
func (ti *PeerAuthTokenIssuer) Issue(nodeID, role string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: ti.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:  nodeID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ti.ttl)),
		Issuer:   peerAuthIssuer,
	}
	claims := PeerAuthClaims{NodeID: nodeID, Role: role}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Validate verifies signature, issuer, and expiry, returning the peer's
// claimed node id and role.
func (ti *PeerAuthTokenIssuer) Validate(raw string) (*PeerAuthClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom PeerAuthClaims
	if err := tok.Claims(ti.signingKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: peerAuthIssuer,
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}
