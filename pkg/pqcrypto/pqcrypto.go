// Package pqcrypto is the node's post-quantum crypto layer (spec §4.B):
// signing/verification, KEM, key rotation, and domain-separated hashing
// across Ed25519, Dilithium3, Kyber1024, and Blake3.
package pqcrypto

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/zeebo/blake3"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
)

// Scheme is the closed set of supported cryptographic schemes.
type Scheme int

const (
	SchemeEd25519 Scheme = iota
	SchemeDilithium3
	SchemeKyber1024
	SchemeBlake3
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "Ed25519"
	case SchemeDilithium3:
		return "Dilithium3"
	case SchemeKyber1024:
		return "Kyber1024"
	case SchemeBlake3:
		return "Blake3"
	default:
		return "Unknown"
	}
}

// Scope restricts what a key may be used for. Using a key outside its
// declared scope is a KeyMisuse error, never silently allowed.
type Scope int

const (
	ScopeSigning Scope = iota
	ScopeKEM
	ScopeSession
)

func (s Scope) String() string {
	switch s {
	case ScopeSigning:
		return "signing"
	case ScopeKEM:
		return "kem"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// KeyPair is a scoped, time-bounded asymmetric keypair.
type KeyPair struct {
	Scheme     Scheme
	Scope      Scope
	ValidUntil time.Time

	PublicKey  PublicKey
	privateRaw any // ed25519.PrivateKey | mode3.PrivateKey | kyber1024.PrivateKey
}

// PublicKey wraps the scheme-specific public key bytes/object.
type PublicKey struct {
	Scheme Scheme
	Raw    any // ed25519.PublicKey | mode3.PublicKey | kyber1024.PublicKey
}

// GenerateKeypair creates a new keypair using rng. Per spec, keygen
// requires hardware RNG or an explicitly declared test RNG — there is no
// default: every call site must supply one (crypto/rand.Reader in
// production, a deterministic io.Reader in tests).
func GenerateKeypair(scheme Scheme, scope Scope, validFor time.Duration, rng io.Reader) (*KeyPair, error) {
	if rng == nil {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "rng must be explicitly declared (hardware or test)")
	}

	kp := &KeyPair{Scheme: scheme, Scope: scope, ValidUntil: time.Now().Add(validFor)}

	switch scheme {
	case SchemeEd25519:
		pub, priv, err := ed25519.GenerateKey(rng)
		if err != nil {
			return nil, fmt.Errorf("generating ed25519 key: %w", err)
		}
		kp.privateRaw = priv
		kp.PublicKey = PublicKey{Scheme: scheme, Raw: pub}

	case SchemeDilithium3:
		pub, priv, err := mode3.GenerateKey(rng)
		if err != nil {
			return nil, fmt.Errorf("generating dilithium3 key: %w", err)
		}
		kp.privateRaw = priv
		kp.PublicKey = PublicKey{Scheme: scheme, Raw: pub}

	case SchemeKyber1024:
		pub, priv, err := kyber1024.GenerateKeyPair(rng)
		if err != nil {
			return nil, fmt.Errorf("generating kyber1024 key: %w", err)
		}
		kp.privateRaw = priv
		kp.PublicKey = PublicKey{Scheme: scheme, Raw: pub}

	default:
		return nil, apperrors.New(apperrors.KindInvalidConfig, fmt.Sprintf("scheme %s has no keypair", scheme))
	}

	return kp, nil
}

// checkUsable enforces scope + expiry before any crypto operation.
func (kp *KeyPair) checkUsable(wantScope Scope) error {
	if kp.Scope != wantScope {
		return apperrors.New(apperrors.KindKeyMisuse, fmt.Sprintf("key scoped for %s used as %s", kp.Scope, wantScope))
	}
	if time.Now().After(kp.ValidUntil) {
		return apperrors.New(apperrors.KindKeyMisuse, "key expired")
	}
	return nil
}

// Sign signs msg with key, enforcing ScopeSigning.
func Sign(key *KeyPair, msg []byte) ([]byte, error) {
	if err := key.checkUsable(ScopeSigning); err != nil {
		return nil, err
	}

	switch key.Scheme {
	case SchemeEd25519:
		priv, ok := key.privateRaw.(ed25519.PrivateKey)
		if !ok {
			return nil, apperrors.New(apperrors.KindKeyMisuse, "private key is not ed25519")
		}
		return ed25519.Sign(priv, msg), nil

	case SchemeDilithium3:
		priv, ok := key.privateRaw.(*mode3.PrivateKey)
		if !ok {
			return nil, apperrors.New(apperrors.KindKeyMisuse, "private key is not dilithium3")
		}
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(priv, msg, sig)
		return sig, nil

	default:
		return nil, apperrors.New(apperrors.KindKeyMisuse, fmt.Sprintf("scheme %s cannot sign", key.Scheme))
	}
}

// Verify checks sig over msg against pk.
func Verify(pk PublicKey, msg, sig []byte) (bool, error) {
	switch pk.Scheme {
	case SchemeEd25519:
		pub, ok := pk.Raw.(ed25519.PublicKey)
		if !ok {
			return false, apperrors.New(apperrors.KindKeyMisuse, "public key is not ed25519")
		}
		return ed25519.Verify(pub, msg, sig), nil

	case SchemeDilithium3:
		pub, ok := pk.Raw.(*mode3.PublicKey)
		if !ok {
			return false, apperrors.New(apperrors.KindKeyMisuse, "public key is not dilithium3")
		}
		return mode3.Verify(pub, msg, sig), nil

	default:
		return false, apperrors.New(apperrors.KindKeyMisuse, fmt.Sprintf("scheme %s cannot verify", pk.Scheme))
	}
}

// Encapsulated holds the result of a KEM encapsulation: a ciphertext to
// send to the peer and the shared secret derived locally.
type Encapsulated struct {
	Ciphertext   []byte
	SharedSecret []byte
}

// KEMEncap performs Kyber1024 encapsulation against the peer's public key.
func KEMEncap(pk PublicKey, rng io.Reader) (*Encapsulated, error) {
	if pk.Scheme != SchemeKyber1024 {
		return nil, apperrors.New(apperrors.KindKeyMisuse, fmt.Sprintf("scheme %s cannot encapsulate", pk.Scheme))
	}
	pub, ok := pk.Raw.(kem.PublicKey)
	if !ok {
		return nil, apperrors.New(apperrors.KindKeyMisuse, "public key is not a KEM public key")
	}
	scheme := kyber1024.Scheme()
	ct, ss, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, fmt.Errorf("kyber1024 encapsulate: %w", err)
	}
	return &Encapsulated{Ciphertext: ct, SharedSecret: ss}, nil
}

// KEMDecap recovers the shared secret from a ciphertext using key,
// enforcing ScopeKEM.
func KEMDecap(key *KeyPair, ciphertext []byte) ([]byte, error) {
	if err := key.checkUsable(ScopeKEM); err != nil {
		return nil, err
	}
	priv, ok := key.privateRaw.(kem.PrivateKey)
	if !ok {
		return nil, apperrors.New(apperrors.KindKeyMisuse, "private key is not a KEM private key")
	}
	scheme := kyber1024.Scheme()
	ss, err := scheme.Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kyber1024 decapsulate: %w", err)
	}
	return ss, nil
}

// HashDomain computes a domain-separated Blake3 hash: H(tag || 0x00 || parts...).
func HashDomain(tag string, parts ...[]byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(tag))
	h.Write([]byte{0x00})
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
