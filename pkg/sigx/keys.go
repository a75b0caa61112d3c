package sigx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrInvalidPublicKey reports a public key PEM that does not parse or does
// not match the declared algorithm.
var ErrInvalidPublicKey = errors.New("sigx: invalid public key")

// ParsePublicKey decodes a PEM-encoded PKIX public key and checks it against
// the declared algorithm. This runs at enrollment so a bad key is rejected
// before it ever reaches a verification path.
func ParsePublicKey(pemBytes []byte, algorithm string) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: expected PEM PUBLIC KEY block", ErrInvalidPublicKey)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	switch algorithm {
	case AlgorithmES256:
		ec, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: ES256 requires an ECDSA key", ErrInvalidPublicKey)
		}
		if ec.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: ES256 requires curve P-256, got %s", ErrInvalidPublicKey, ec.Curve.Params().Name)
		}
		return ec, nil
	case AlgorithmEd25519:
		ed, ok := pub.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: Ed25519 requires an Ed25519 key", ErrInvalidPublicKey)
		}
		return ed, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// MarshalPublicKey encodes a public key as PEM PKIX, the wire form devices
// submit at enrollment.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("sigx: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// GenerateES256Key generates an ECDSA P-256 keypair. The private key stands in
// for a hardware-backed key in tests and SDK examples; production devices keep
// theirs in a keystore this package never sees.
func GenerateES256Key() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigx: generate ECDSA key: %w", err)
	}
	return key, nil
}

// GenerateEd25519Key generates an Ed25519 keypair.
func GenerateEd25519Key() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sigx: generate Ed25519 key: %w", err)
	}
	return key, nil
}
