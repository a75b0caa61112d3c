package devicesdk

import (
	"fmt"
	"net/http"

	"github.com/ikanisa/deviceauth/pkg/httpx"
)

// Wire error codes. Every verification failure kind has its own code so
// clients and dashboards can tell a phishing signal (origin_mismatch) from a
// stolen-response replay (replay_detected) without parsing descriptions.
const (
	ErrorCodeMalformedMessage    = "malformed_message"
	ErrorCodeChallengeNotFound   = "challenge_not_found"
	ErrorCodeReplayDetected      = "replay_detected"
	ErrorCodeChallengeExpired    = "challenge_expired"
	ErrorCodeDeviceNotRegistered = "device_not_registered"
	ErrorCodeSessionMismatch     = "session_mismatch"
	ErrorCodeNonceMismatch       = "nonce_mismatch"
	ErrorCodeOriginMismatch      = "origin_mismatch"
	ErrorCodeDeviceMismatch      = "device_mismatch"
	ErrorCodeTimestampInvalid    = "timestamp_invalid"
	ErrorCodeInvalidSignature    = "invalid_signature"
	ErrorCodeConfigurationError  = "configuration_error"
	ErrorCodeSessionConflict     = "session_conflict"
	ErrorCodeIntegrityRejected   = "integrity_rejected"
	ErrorCodeInvalidEnrollment   = "invalid_enrollment"
	ErrorCodeInvalidPublicKey    = "invalid_public_key"
	ErrorCodeDuplicateDevice     = "duplicate_device"
	ErrorCodeDeviceNotFound      = "device_not_found"
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeServerError         = "server_error"
)

// ProtocolError is the service's error response shape. It implements error
// and is used by both the HTTP handlers (to write responses) and the client
// (to surface decoded failures).
type ProtocolError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes the error to an HTTP response.
func (e *ProtocolError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

var (
	ErrMalformedMessage = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeMalformedMessage,
		Description: "the signed message is missing required fields or uses an unsupported version",
	}

	ErrChallengeNotFound = &ProtocolError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeChallengeNotFound,
		Description: "no challenge exists for this session",
	}

	ErrReplayDetected = &ProtocolError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeReplayDetected,
		Description: "the challenge has already been used",
	}

	ErrChallengeExpired = &ProtocolError{
		StatusCode:  http.StatusGone,
		Code:        ErrorCodeChallengeExpired,
		Description: "the challenge has expired, request a new one",
	}

	ErrDeviceNotRegistered = &ProtocolError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeDeviceNotRegistered,
		Description: "no active key is enrolled for this device",
	}

	ErrSessionMismatch = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeSessionMismatch,
		Description: "the signed session does not match the challenge",
	}

	ErrNonceMismatch = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeNonceMismatch,
		Description: "the signed nonce does not match the challenge",
	}

	ErrOriginMismatch = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeOriginMismatch,
		Description: "the signed origin does not match the challenge",
	}

	ErrDeviceMismatch = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeDeviceMismatch,
		Description: "the device key is enrolled to a different user",
	}

	ErrTimestampInvalid = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeTimestampInvalid,
		Description: "the signing timestamp is outside the accepted window",
	}

	ErrInvalidSignature = &ProtocolError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidSignature,
		Description: "the signature does not verify against the enrolled key",
	}

	ErrConfigurationError = &ProtocolError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeConfigurationError,
		Description: "the stored key material cannot be used by this server",
	}

	ErrSessionConflict = &ProtocolError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeSessionConflict,
		Description: "a live challenge already exists for this session",
	}

	ErrIntegrityRejected = &ProtocolError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeIntegrityRejected,
		Description: "the device did not meet the integrity requirement",
	}

	ErrInvalidEnrollment = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidEnrollment,
		Description: "the enrollment request is missing required fields",
	}

	ErrInvalidPublicKey = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidPublicKey,
		Description: "the public key could not be parsed for the declared algorithm",
	}

	ErrDuplicateDevice = &ProtocolError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeDuplicateDevice,
		Description: "an active key is already enrolled for this device, revoke it first",
	}

	ErrDeviceNotFound = &ProtocolError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeDeviceNotFound,
		Description: "no device key exists with this id",
	}

	ErrInvalidRequest = &ProtocolError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrServerError = &ProtocolError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "an internal error occurred",
	}
)
