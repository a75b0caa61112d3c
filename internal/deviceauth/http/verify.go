package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// VerifyHandler handles POST /v1/device-auth/verify.
type VerifyHandler struct {
	ProtocolService *service.ProtocolService
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req devicesdk.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		devicesdk.ErrInvalidRequest.WriteError(w)
		return
	}

	// The signature travels base64url-encoded; an undecodable value is
	// structurally malformed, same as a missing field.
	sig, err := decodeSignature(req.Signature)
	if err != nil {
		devicesdk.ErrMalformedMessage.WriteError(w)
		return
	}

	out, err := h.ProtocolService.Verify(ctx, service.VerifyRequest{
		SessionID: req.SessionID,
		DeviceID:  req.DeviceID,
		Message: domain.SignedMessage{
			Ver:       req.Message.Ver,
			UserID:    req.Message.UserID,
			DeviceID:  req.Message.DeviceID,
			SessionID: req.Message.SessionID,
			Origin:    req.Message.Origin,
			Nonce:     req.Message.Nonce,
			TS:        req.Message.TS,
			Scope:     req.Message.Scope,
			Alg:       req.Message.Alg,
		},
		Signature:      sig,
		IntegrityToken: req.IntegrityToken,
	})
	if err != nil {
		writeVerifyError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, devicesdk.VerifyResponse{
		Verified:        true,
		UserID:          out.UserID,
		DeviceID:        out.DeviceID,
		DeviceKeyID:     out.DeviceKeyID,
		SessionID:       out.SessionID,
		Label:           out.Label,
		IntegrityStatus: out.IntegrityStatus,
	})
}

// decodeSignature accepts base64url with or without padding, since mobile
// base64 implementations disagree about it.
func decodeSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty signature")
	}
	if sig, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// verifyErrors maps protocol sentinels to wire errors. Order matters only in
// the service; here the mapping is 1:1.
var verifyErrors = []struct {
	sentinel error
	wire     *devicesdk.ProtocolError
}{
	{service.ErrMalformedMessage, devicesdk.ErrMalformedMessage},
	{service.ErrChallengeNotFound, devicesdk.ErrChallengeNotFound},
	{service.ErrReplayDetected, devicesdk.ErrReplayDetected},
	{service.ErrChallengeExpired, devicesdk.ErrChallengeExpired},
	{service.ErrDeviceNotRegistered, devicesdk.ErrDeviceNotRegistered},
	{service.ErrSessionMismatch, devicesdk.ErrSessionMismatch},
	{service.ErrNonceMismatch, devicesdk.ErrNonceMismatch},
	{service.ErrOriginMismatch, devicesdk.ErrOriginMismatch},
	{service.ErrDeviceMismatch, devicesdk.ErrDeviceMismatch},
	{service.ErrTimestampInvalid, devicesdk.ErrTimestampInvalid},
	{service.ErrInvalidSignature, devicesdk.ErrInvalidSignature},
	{service.ErrConfiguration, devicesdk.ErrConfigurationError},
	{service.ErrIntegrityRejected, devicesdk.ErrIntegrityRejected},
}

func writeVerifyError(w http.ResponseWriter, log *slog.Logger, err error) {
	for _, m := range verifyErrors {
		if errors.Is(err, m.sentinel) {
			m.wire.WriteError(w)
			return
		}
	}
	log.Error("verification failed", "err", err)
	devicesdk.ErrServerError.WriteError(w)
}
