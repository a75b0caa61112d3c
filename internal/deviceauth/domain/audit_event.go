package domain

import "time"

// Audit event types, one per protocol step outcome so the failure point is
// always reconstructable from the trail alone.
const (
	EventDeviceEnrolled       = "DEVICE_ENROLLED"
	EventDeviceRevoked        = "DEVICE_REVOKED"
	EventChallengeIssued      = "CHALLENGE_ISSUED"
	EventChallengeFailed      = "CHALLENGE_FAILED"
	EventChallengeVerified    = "CHALLENGE_VERIFIED"
	EventIntegrityCheckPassed = "INTEGRITY_CHECK_PASSED"
	EventIntegrityCheckFailed = "INTEGRITY_CHECK_FAILED"
)

// Failure reasons. Each verification failure kind maps to exactly one of
// these strings; callers and dashboards pattern-match on them, so they are
// part of the contract and never renamed.
const (
	ReasonMalformedMessage     = "MalformedMessage"
	ReasonChallengeNotFound    = "ChallengeNotFound"
	ReasonReplayDetected       = "ReplayDetected"
	ReasonChallengeExpired     = "ChallengeExpired"
	ReasonDeviceNotRegistered  = "DeviceNotRegistered"
	ReasonSessionMismatch      = "SessionMismatch"
	ReasonNonceMismatch        = "NonceMismatch"
	ReasonOriginMismatch       = "OriginMismatch"
	ReasonDeviceMismatch       = "DeviceMismatch"
	ReasonTimestampInvalid     = "TimestampInvalid"
	ReasonInvalidSignature     = "InvalidSignature"
	ReasonConfigurationError   = "ConfigurationError"
	ReasonIntegrityCheckFailed = "IntegrityCheckFailed"
)

// AuditEvent is one append-only trail entry. Optional references are
// pointers because early failures (e.g. unknown challenge) have nothing to
// point at yet.
type AuditEvent struct {
	ID            string
	EventType     string
	UserID        *string
	DeviceKeyID   *string
	ChallengeID   *string
	Success       bool
	FailureReason string
	Metadata      map[string]any
	CreatedAt     time.Time
}
