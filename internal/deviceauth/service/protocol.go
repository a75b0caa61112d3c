package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/pkg/cryptox"
	"github.com/ikanisa/deviceauth/pkg/idx"
	"github.com/ikanisa/deviceauth/pkg/sigx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// Verification failure sentinels. Each maps 1:1 to a domain.Reason* string
// and to an HTTP status in the transport layer; callers dispatch with
// errors.Is.
var (
	ErrInvalidRequest      = errors.New("protocol: invalid request")
	ErrMalformedMessage    = errors.New("protocol: malformed signed message")
	ErrChallengeNotFound   = errors.New("protocol: challenge not found")
	ErrReplayDetected      = errors.New("protocol: challenge already used")
	ErrChallengeExpired    = errors.New("protocol: challenge expired")
	ErrDeviceNotRegistered = errors.New("protocol: device not registered")
	ErrSessionMismatch     = errors.New("protocol: session mismatch")
	ErrNonceMismatch       = errors.New("protocol: nonce mismatch")
	ErrOriginMismatch      = errors.New("protocol: origin mismatch")
	ErrDeviceMismatch      = errors.New("protocol: device mismatch")
	ErrTimestampInvalid    = errors.New("protocol: timestamp outside tolerance")
	ErrInvalidSignature    = errors.New("protocol: invalid signature")
	ErrConfiguration       = errors.New("protocol: configuration error")
	ErrSessionConflict     = errors.New("protocol: session already has a live challenge")
	ErrIntegrityRejected   = errors.New("protocol: device integrity rejected")
)

// Protocol timing defaults.
const (
	// DefaultChallengeTTL is the challenge lifetime.
	DefaultChallengeTTL = 2 * time.Minute
	// DefaultSkewTolerance bounds |signing timestamp - challenge creation|.
	DefaultSkewTolerance = 2 * time.Minute
)

// ProtocolConfig tunes challenge lifetime and verification policy.
type ProtocolConfig struct {
	ChallengeTTL  time.Duration
	SkewTolerance time.Duration

	// AttestationHardGate, when true, turns the attestation verdict from an
	// advisory signal into a requirement: verification fails unless a verdict
	// is obtained and it meets device integrity. Off by default.
	AttestationHardGate bool
}

func (c ProtocolConfig) withDefaults() ProtocolConfig {
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = DefaultChallengeTTL
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = DefaultSkewTolerance
	}
	return c
}

// SignatureVerifier checks a signature over canonical message bytes against
// stored key material. Satisfied by sigx.StdVerifier.
type SignatureVerifier interface {
	Verify(publicKeyPEM []byte, algorithm string, message, signature []byte) error
}

// ProtocolService implements challenge issuance and verification. All state
// lives in the store; the service itself is stateless and safe for concurrent
// use.
type ProtocolService struct {
	store       store.Store
	verifier    SignatureVerifier
	attestation AttestationClient // nil disables attestation entirely
	tokens      *ChallengeTokenSigner
	audit       *AuditRecorder
	cfg         ProtocolConfig
}

func NewProtocolService(st store.Store, verifier SignatureVerifier, attestation AttestationClient, tokens *ChallengeTokenSigner, cfg ProtocolConfig) *ProtocolService {
	return &ProtocolService{
		store:       st,
		verifier:    verifier,
		attestation: attestation,
		tokens:      tokens,
		audit:       &AuditRecorder{Store: st},
		cfg:         cfg.withDefaults(),
	}
}

// IssueRequest asks for a fresh challenge bound to a session and origin.
type IssueRequest struct {
	SessionID string
	Origin    string
	Audience  string
}

// IssueResult carries the stored challenge plus a compact signed token the
// relying party can embed in a QR code or push payload.
type IssueResult struct {
	Challenge domain.Challenge
	Token     string
}

// Issue creates a single-use challenge. At most one live (unclaimed,
// unexpired) challenge may exist per session; a second request while one is
// live returns ErrSessionConflict instead of silently superseding it.
func (s *ProtocolService) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if req.SessionID == "" {
		return IssueResult{}, fmt.Errorf("%w: session_id required", ErrInvalidRequest)
	}
	if req.Origin == "" {
		return IssueResult{}, fmt.Errorf("%w: origin required", ErrInvalidRequest)
	}

	now := time.Now().UTC()

	existing, err := s.store.Challenges().GetChallengeBySessionID(ctx, req.SessionID)
	switch {
	case err == nil && existing.Live(now):
		return IssueResult{}, ErrSessionConflict
	case err == nil && !existing.Used() && existing.Expired(now):
		// An expired unclaimed row still occupies the session's slot in the
		// live-challenge unique index; clear it before inserting.
		if err := s.store.Challenges().DeleteExpiredChallenges(ctx, now); err != nil {
			return IssueResult{}, fmt.Errorf("sweep expired challenges: %w", err)
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return IssueResult{}, fmt.Errorf("lookup session challenge: %w", err)
	}

	nonce, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return IssueResult{}, fmt.Errorf("generate nonce: %w", err)
	}

	challenge := domain.Challenge{
		ID:        idx.New().String(),
		SessionID: req.SessionID,
		Nonce:     nonce,
		Origin:    req.Origin,
		Audience:  req.Audience,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ChallengeTTL),
	}

	if err := s.store.Challenges().CreateChallenge(ctx, challenge); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent issuer won the insert between our lookup and now.
			return IssueResult{}, ErrSessionConflict
		}
		return IssueResult{}, fmt.Errorf("create challenge: %w", err)
	}

	s.audit.Record(ctx, domain.AuditEvent{
		EventType:   domain.EventChallengeIssued,
		ChallengeID: &challenge.ID,
		Success:     true,
		Metadata: map[string]any{
			"session_id": challenge.SessionID,
			"origin":     challenge.Origin,
			"expires_at": challenge.ExpiresAt.Format(time.RFC3339),
		},
	})

	result := IssueResult{Challenge: challenge}
	if s.tokens != nil {
		token, err := s.tokens.Sign(challenge)
		if err != nil {
			return IssueResult{}, fmt.Errorf("sign challenge token: %w", err)
		}
		result.Token = token
	}

	return result, nil
}

// VerifyRequest is a device's answer to a challenge. SessionID locates the
// challenge and DeviceID the enrolled key; the same values inside the signed
// message are what the binding checks validate, so tampering with either side
// is caught.
type VerifyRequest struct {
	SessionID      string
	DeviceID       string
	Message        domain.SignedMessage
	Signature      []byte
	IntegrityToken string
}

// VerifyResult identifies the authenticated device on success.
type VerifyResult struct {
	UserID          string
	DeviceID        string
	DeviceKeyID     string
	SessionID       string
	Label           string
	IntegrityStatus string
}

// Verify runs the full verification sequence against a submitted signed
// message. Checks run in a fixed order — structure, challenge state, key
// lookup, bindings, freshness, signature — and the first failure wins, each
// with its own sentinel and audit reason. The challenge is consumed by an
// atomic conditional claim after the signature holds, so concurrent
// submissions of the same challenge produce exactly one success.
func (s *ProtocolService) Verify(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	now := time.Now().UTC()
	msg := req.Message

	// Structural validation happens before any lookup so malformed input
	// cannot probe for challenge or device existence.
	if req.SessionID == "" {
		return VerifyResult{}, s.fail(ctx, domain.ReasonMalformedMessage, ErrMalformedMessage, nil, nil, nil,
			map[string]any{"detail": "session_id required"})
	}
	if req.DeviceID == "" {
		return VerifyResult{}, s.fail(ctx, domain.ReasonMalformedMessage, fmt.Errorf("%w: device_id required", ErrMalformedMessage), nil, nil, nil,
			map[string]any{"detail": "device_id required"})
	}
	if err := msg.Validate(); err != nil {
		return VerifyResult{}, s.fail(ctx, domain.ReasonMalformedMessage, fmt.Errorf("%w: %v", ErrMalformedMessage, err), nil, nil, nil,
			map[string]any{"detail": err.Error()})
	}
	if msg.Ver != domain.SignedMessageVersion {
		return VerifyResult{}, s.fail(ctx, domain.ReasonMalformedMessage, fmt.Errorf("%w: unsupported version %q", ErrMalformedMessage, msg.Ver), nil, nil, nil,
			map[string]any{"detail": "unsupported version", "ver": msg.Ver})
	}
	if len(req.Signature) == 0 {
		return VerifyResult{}, s.fail(ctx, domain.ReasonMalformedMessage, fmt.Errorf("%w: signature required", ErrMalformedMessage), nil, nil, nil,
			map[string]any{"detail": "signature required"})
	}

	challenge, err := s.store.Challenges().GetChallengeBySessionID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerifyResult{}, s.fail(ctx, domain.ReasonChallengeNotFound, ErrChallengeNotFound, nil, nil, nil,
				map[string]any{"session_id": req.SessionID})
		}
		return VerifyResult{}, fmt.Errorf("lookup challenge: %w", err)
	}

	if challenge.Used() {
		return VerifyResult{}, s.fail(ctx, domain.ReasonReplayDetected, ErrReplayDetected, nil, nil, &challenge.ID, nil)
	}
	if challenge.Expired(now) {
		return VerifyResult{}, s.fail(ctx, domain.ReasonChallengeExpired, ErrChallengeExpired, nil, nil, &challenge.ID,
			map[string]any{"expired_at": challenge.ExpiresAt.Format(time.RFC3339)})
	}

	key, err := s.store.DeviceKeys().GetActiveDeviceKey(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return VerifyResult{}, s.fail(ctx, domain.ReasonDeviceNotRegistered, ErrDeviceNotRegistered, &msg.UserID, nil, &challenge.ID,
				map[string]any{"device_id": req.DeviceID})
		}
		return VerifyResult{}, fmt.Errorf("lookup device key: %w", err)
	}

	// Binding checks. Every signed field the challenge pins must match the
	// stored record; each mismatch is its own failure kind so the audit
	// trail names the exact broken binding.
	if msg.SessionID != challenge.SessionID {
		return VerifyResult{}, s.fail(ctx, domain.ReasonSessionMismatch, ErrSessionMismatch, &key.UserID, &key.ID, &challenge.ID, nil)
	}
	if !cryptox.ConstantTimeEquals(msg.Nonce, challenge.Nonce) {
		return VerifyResult{}, s.fail(ctx, domain.ReasonNonceMismatch, ErrNonceMismatch, &key.UserID, &key.ID, &challenge.ID, nil)
	}
	if msg.Origin != challenge.Origin {
		return VerifyResult{}, s.fail(ctx, domain.ReasonOriginMismatch, ErrOriginMismatch, &key.UserID, &key.ID, &challenge.ID,
			map[string]any{"expected": challenge.Origin, "got": msg.Origin})
	}
	if msg.DeviceID != req.DeviceID {
		return VerifyResult{}, s.fail(ctx, domain.ReasonDeviceMismatch, ErrDeviceMismatch, &key.UserID, &key.ID, &challenge.ID,
			map[string]any{"expected": req.DeviceID, "got": msg.DeviceID})
	}
	if msg.UserID != key.UserID {
		// Key enrolled to a different user than the message claims.
		return VerifyResult{}, s.fail(ctx, domain.ReasonDeviceMismatch, ErrDeviceMismatch, &key.UserID, &key.ID, &challenge.ID, nil)
	}

	drift := msg.TS*1000 - challenge.CreatedAt.UnixMilli()
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.SkewTolerance.Milliseconds() {
		return VerifyResult{}, s.fail(ctx, domain.ReasonTimestampInvalid, ErrTimestampInvalid, &key.UserID, &key.ID, &challenge.ID,
			map[string]any{"drift_ms": drift, "tolerance_ms": s.cfg.SkewTolerance.Milliseconds()})
	}

	canonical, err := msg.CanonicalBytes()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("canonicalize message: %w", err)
	}
	if err := s.verifier.Verify([]byte(key.PublicKeyPEM), key.Algorithm, canonical, req.Signature); err != nil {
		if isConfigurationFault(err) {
			// Stored key material or algorithm the server cannot use: a
			// server fault, not a client fault.
			return VerifyResult{}, s.fail(ctx, domain.ReasonConfigurationError, fmt.Errorf("%w: %v", ErrConfiguration, err), &key.UserID, &key.ID, &challenge.ID,
				map[string]any{"algorithm": key.Algorithm})
		}
		return VerifyResult{}, s.fail(ctx, domain.ReasonInvalidSignature, ErrInvalidSignature, &key.UserID, &key.ID, &challenge.ID, nil)
	}

	// Consume the challenge. The store evaluates used_at IS NULL in the same
	// operation as the write, so exactly one concurrent caller claims it and
	// everyone else lands here with claimed == false.
	claimed, err := s.store.Challenges().ClaimChallenge(ctx, challenge.ID, key.ID, now)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("claim challenge: %w", err)
	}
	if !claimed {
		return VerifyResult{}, s.fail(ctx, domain.ReasonReplayDetected, ErrReplayDetected, &key.UserID, &key.ID, &challenge.ID,
			map[string]any{"detail": "lost claim race"})
	}

	integrityStatus, err := s.checkIntegrity(ctx, key, req.IntegrityToken, now)
	if err != nil {
		return VerifyResult{}, err
	}

	if err := s.store.DeviceKeys().TouchLastUsed(ctx, key.ID, now); err != nil {
		// Bookkeeping only; the verification already succeeded.
		slogx.FromContext(ctx).Warn("last_used_at update failed", "device_key_id", key.ID, "error", err)
	}

	s.audit.Record(ctx, domain.AuditEvent{
		EventType:   domain.EventChallengeVerified,
		UserID:      &key.UserID,
		DeviceKeyID: &key.ID,
		ChallengeID: &challenge.ID,
		Success:     true,
		Metadata: map[string]any{
			"session_id": challenge.SessionID,
			"origin":     challenge.Origin,
			"algorithm":  key.Algorithm,
		},
	})

	return VerifyResult{
		UserID:          key.UserID,
		DeviceID:        key.DeviceID,
		DeviceKeyID:     key.ID,
		SessionID:       challenge.SessionID,
		Label:           key.Label,
		IntegrityStatus: integrityStatus,
	}, nil
}

// checkIntegrity obtains and records an attestation verdict when a token was
// submitted. The challenge is already consumed at this point; by default a
// failed or unobtainable verdict is recorded and logged but does not undo the
// verification. With the hard gate enabled it does.
func (s *ProtocolService) checkIntegrity(ctx context.Context, key domain.DeviceKey, integrityToken string, now time.Time) (string, error) {
	if s.attestation == nil || integrityToken == "" {
		if s.cfg.AttestationHardGate {
			s.audit.Failure(ctx, domain.ReasonIntegrityCheckFailed, &key.UserID, &key.ID, nil,
				map[string]any{"detail": "integrity verdict required but unavailable"})
			return "", ErrIntegrityRejected
		}
		return key.IntegrityStatus, nil
	}

	verdict, err := s.attestation.CheckIntegrity(ctx, integrityToken)
	if err != nil {
		slogx.FromContext(ctx).Warn("attestation check failed", "device_key_id", key.ID, "error", err)
		s.audit.Record(ctx, domain.AuditEvent{
			EventType:     domain.EventIntegrityCheckFailed,
			UserID:        &key.UserID,
			DeviceKeyID:   &key.ID,
			Success:       false,
			FailureReason: domain.ReasonIntegrityCheckFailed,
			Metadata:      map[string]any{"error": err.Error()},
		})
		if s.cfg.AttestationHardGate {
			return "", ErrIntegrityRejected
		}
		return key.IntegrityStatus, nil
	}

	status := verdict.Status()
	if err := s.store.DeviceKeys().UpdateIntegrityStatus(ctx, key.ID, status, now); err != nil {
		slogx.FromContext(ctx).Warn("integrity status update failed", "device_key_id", key.ID, "error", err)
	}

	eventType := domain.EventIntegrityCheckPassed
	failureReason := ""
	if status != domain.IntegrityStatusMet {
		eventType = domain.EventIntegrityCheckFailed
		failureReason = domain.ReasonIntegrityCheckFailed
	}
	s.audit.Record(ctx, domain.AuditEvent{
		EventType:     eventType,
		UserID:        &key.UserID,
		DeviceKeyID:   &key.ID,
		Success:       status == domain.IntegrityStatusMet,
		FailureReason: failureReason,
		Metadata: map[string]any{
			"status":            status,
			"token_fingerprint": cryptox.FingerprintToken(integrityToken),
		},
	})

	if s.cfg.AttestationHardGate && status != domain.IntegrityStatusMet {
		return "", ErrIntegrityRejected
	}
	return status, nil
}

func (s *ProtocolService) fail(ctx context.Context, reason string, sentinel error, userID, deviceKeyID, challengeID *string, metadata map[string]any) error {
	s.audit.Failure(ctx, reason, userID, deviceKeyID, challengeID, metadata)
	return sentinel
}

// isConfigurationFault reports signature errors that indicate unusable stored
// key material rather than a bad client signature.
func isConfigurationFault(err error) bool {
	return errors.Is(err, sigx.ErrUnsupportedAlgorithm) || errors.Is(err, sigx.ErrInvalidPublicKey)
}
