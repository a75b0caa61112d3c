package sigx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Signer produces signatures compatible with StdVerifier. On a real device
// the implementation wraps a hardware-backed keystore; the in-memory
// implementations here back the SDK, tests, and local development.
type Signer interface {
	// Sign signs the canonical message bytes.
	Sign(message []byte) ([]byte, error)
	// Algorithm returns the algorithm name the signature verifies under.
	Algorithm() string
	// PublicKeyPEM returns the PEM-encoded public half for enrollment.
	PublicKeyPEM() ([]byte, error)
}

// ES256Signer signs with an in-memory ECDSA P-256 key, emitting ASN.1/DER
// signatures like a hardware keystore would.
type ES256Signer struct {
	key *ecdsa.PrivateKey
}

// NewES256Signer wraps an existing private key.
func NewES256Signer(key *ecdsa.PrivateKey) *ES256Signer {
	return &ES256Signer{key: key}
}

func (s *ES256Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sigx: ES256 sign: %w", err)
	}
	return sig, nil
}

func (s *ES256Signer) Algorithm() string { return AlgorithmES256 }

func (s *ES256Signer) PublicKeyPEM() ([]byte, error) {
	return MarshalPublicKey(&s.key.PublicKey)
}

// Ed25519Signer signs with an in-memory Ed25519 key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Signer) PublicKeyPEM() ([]byte, error) {
	return MarshalPublicKey(s.key.Public())
}
