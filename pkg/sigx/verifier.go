package sigx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"math/big"
)

// Supported signing algorithms for device-bound keys.
const (
	// AlgorithmES256 is ECDSA over P-256 with a SHA-256 digest.
	AlgorithmES256 = "ES256"
	// AlgorithmEd25519 signs the raw message bytes directly, no digest step.
	AlgorithmEd25519 = "Ed25519"
)

var (
	// ErrUnsupportedAlgorithm reports an algorithm this verifier cannot
	// handle. This is a server configuration fault, never a client fault.
	ErrUnsupportedAlgorithm = errors.New("sigx: unsupported algorithm")

	// ErrInvalidSignature reports a signature that does not verify against
	// the given key and message.
	ErrInvalidSignature = errors.New("sigx: invalid signature")
)

// Verifier checks a signature over canonical message bytes against a stored
// public key. It is injected into the protocol rather than resolved from any
// process-global state so each platform can supply its own implementation.
type Verifier interface {
	Verify(publicKeyPEM []byte, algorithm string, message, signature []byte) error
}

// StdVerifier is the stock Verifier backed by crypto/ecdsa and crypto/ed25519.
// It is stateless and safe for concurrent use.
type StdVerifier struct{}

// Verify checks signature over message. Returns ErrUnsupportedAlgorithm for
// unknown algorithms, ErrInvalidPublicKey for unusable key material, and
// ErrInvalidSignature when the signature itself does not hold.
func (StdVerifier) Verify(publicKeyPEM []byte, algorithm string, message, signature []byte) error {
	pub, err := ParsePublicKey(publicKeyPEM, algorithm)
	if err != nil {
		return err
	}

	switch algorithm {
	case AlgorithmES256:
		return verifyES256(pub.(*ecdsa.PublicKey), message, signature)
	case AlgorithmEd25519:
		if !ed25519.Verify(pub.(ed25519.PublicKey), message, signature) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return ErrUnsupportedAlgorithm
	}
}

// rawES256SignatureSize is the length of a JOSE-style r||s signature for P-256.
const rawES256SignatureSize = 64

// verifyES256 accepts both signature encodings in the wild: ASN.1/DER (what
// hardware keystores emit) and raw 64-byte r||s (what JOSE tooling emits).
// Both verify over the SHA-256 digest of the same canonical bytes.
func verifyES256(pub *ecdsa.PublicKey, message, signature []byte) error {
	digest := sha256.Sum256(message)

	if ecdsa.VerifyASN1(pub, digest[:], signature) {
		return nil
	}

	if len(signature) == rawES256SignatureSize {
		r := new(big.Int).SetBytes(signature[:rawES256SignatureSize/2])
		s := new(big.Int).SetBytes(signature[rawES256SignatureSize/2:])
		if ecdsa.Verify(pub, digest[:], r, s) {
			return nil
		}
	}

	return ErrInvalidSignature
}
