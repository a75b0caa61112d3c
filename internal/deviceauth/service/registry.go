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

var (
	// ErrInvalidEnrollment reports a structurally bad enrollment request.
	ErrInvalidEnrollment = errors.New("registry: invalid enrollment")
	// ErrInvalidPublicKey reports key material that failed PEM/algorithm validation.
	ErrInvalidPublicKey = errors.New("registry: invalid public key")
	// ErrDuplicateDevice reports an active key already enrolled for the device.
	ErrDuplicateDevice = errors.New("registry: device already enrolled")
	// ErrDeviceNotFound reports an unknown device key id.
	ErrDeviceNotFound = errors.New("registry: device key not found")
)

// RegistryService manages the device key lifecycle: enrollment, listing and
// revocation. Keys are soft-revoked, never deleted, so the audit trail keeps
// resolving old key ids.
type RegistryService struct {
	store       store.Store
	attestation AttestationClient // nil skips enrollment-time attestation
	audit       *AuditRecorder
}

func NewRegistryService(st store.Store, attestation AttestationClient) *RegistryService {
	return &RegistryService{
		store:       st,
		attestation: attestation,
		audit:       &AuditRecorder{Store: st},
	}
}

// EnrollRequest registers a device public key for a user.
type EnrollRequest struct {
	UserID       string
	DeviceID     string
	PublicKeyPEM string
	Algorithm    string
	Label        string
	DeviceInfo   domain.DeviceInfo

	// IntegrityToken, if present, is exchanged for an attestation verdict
	// recorded on the new key. Advisory at enrollment: a failed verdict is
	// stored, not rejected.
	IntegrityToken string
}

func (r EnrollRequest) validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user_id required", ErrInvalidEnrollment)
	case r.DeviceID == "":
		return fmt.Errorf("%w: device_id required", ErrInvalidEnrollment)
	case r.PublicKeyPEM == "":
		return fmt.Errorf("%w: public_key required", ErrInvalidEnrollment)
	case r.Algorithm != domain.AlgorithmES256 && r.Algorithm != domain.AlgorithmEd25519:
		return fmt.Errorf("%w: algorithm must be ES256 or Ed25519", ErrInvalidEnrollment)
	}
	return nil
}

// Enroll validates and stores a device key. The key material is parsed up
// front so verification never meets a key it cannot load. One active key per
// device: a second enrollment for the same device_id fails until the first is
// revoked.
func (s *RegistryService) Enroll(ctx context.Context, req EnrollRequest) (domain.DeviceKey, error) {
	if err := req.validate(); err != nil {
		return domain.DeviceKey{}, err
	}
	if _, err := sigx.ParsePublicKey([]byte(req.PublicKeyPEM), req.Algorithm); err != nil {
		return domain.DeviceKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	now := time.Now().UTC()
	key := domain.DeviceKey{
		ID:           idx.New().String(),
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		PublicKeyPEM: req.PublicKeyPEM,
		Algorithm:    req.Algorithm,
		Label:        req.Label,
		DeviceInfo:   req.DeviceInfo,
		CreatedAt:    now,
	}

	if req.IntegrityToken != "" && s.attestation != nil {
		key.IntegrityStatus, key.LastIntegrityCheckAt = s.enrollmentVerdict(ctx, req.IntegrityToken, now)
	}

	if err := s.store.DeviceKeys().CreateDeviceKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.DeviceKey{}, ErrDuplicateDevice
		}
		return domain.DeviceKey{}, fmt.Errorf("create device key: %w", err)
	}

	s.audit.Record(ctx, domain.AuditEvent{
		EventType:   domain.EventDeviceEnrolled,
		UserID:      &key.UserID,
		DeviceKeyID: &key.ID,
		Success:     true,
		Metadata: map[string]any{
			"device_id":        key.DeviceID,
			"algorithm":        key.Algorithm,
			"integrity_status": key.IntegrityStatus,
		},
	})

	return key, nil
}

// enrollmentVerdict fetches an attestation verdict for a new key. Failures
// are logged and audited but never block enrollment.
func (s *RegistryService) enrollmentVerdict(ctx context.Context, integrityToken string, now time.Time) (string, *time.Time) {
	verdict, err := s.attestation.CheckIntegrity(ctx, integrityToken)
	if err != nil {
		slogx.FromContext(ctx).Warn("enrollment attestation failed", "error", err)
		s.audit.Record(ctx, domain.AuditEvent{
			EventType:     domain.EventIntegrityCheckFailed,
			Success:       false,
			FailureReason: domain.ReasonIntegrityCheckFailed,
			Metadata:      map[string]any{"error": err.Error()},
		})
		return "", nil
	}

	status := verdict.Status()
	eventType := domain.EventIntegrityCheckPassed
	failureReason := ""
	if status != domain.IntegrityStatusMet {
		eventType = domain.EventIntegrityCheckFailed
		failureReason = domain.ReasonIntegrityCheckFailed
	}
	s.audit.Record(ctx, domain.AuditEvent{
		EventType:     eventType,
		Success:       status == domain.IntegrityStatusMet,
		FailureReason: failureReason,
		Metadata: map[string]any{
			"status":            status,
			"token_fingerprint": cryptox.FingerprintToken(integrityToken),
		},
	})
	return status, &now
}

// ListDevices returns all of a user's keys, newest first, revoked included.
func (s *RegistryService) ListDevices(ctx context.Context, userID string) ([]domain.DeviceKey, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidEnrollment)
	}
	keys, err := s.store.DeviceKeys().ListUserDeviceKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list device keys: %w", err)
	}
	return keys, nil
}

// Revoke soft-revokes a device key. Revoking an already revoked key is a
// no-op; an unknown id is ErrDeviceNotFound.
func (s *RegistryService) Revoke(ctx context.Context, deviceKeyID string) error {
	key, err := s.store.DeviceKeys().GetDeviceKeyByID(ctx, deviceKeyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("lookup device key: %w", err)
	}
	if key.Revoked() {
		return nil
	}

	now := time.Now().UTC()
	if err := s.store.DeviceKeys().RevokeDeviceKey(ctx, key.ID, now); err != nil {
		return fmt.Errorf("revoke device key: %w", err)
	}

	s.audit.Record(ctx, domain.AuditEvent{
		EventType:   domain.EventDeviceRevoked,
		UserID:      &key.UserID,
		DeviceKeyID: &key.ID,
		Success:     true,
		Metadata:    map[string]any{"device_id": key.DeviceID},
	})
	return nil
}
