package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// EnrollHandler handles POST /v1/device-auth/enroll.
type EnrollHandler struct {
	RegistryService *service.RegistryService
}

func (h *EnrollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req devicesdk.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		devicesdk.ErrInvalidRequest.WriteError(w)
		return
	}

	key, err := h.RegistryService.Enroll(ctx, service.EnrollRequest{
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		PublicKeyPEM: req.PublicKey,
		Algorithm:    req.Algorithm,
		Label:        req.Label,
		DeviceInfo: domain.DeviceInfo{
			Model:        req.DeviceInfo.Model,
			Manufacturer: req.DeviceInfo.Manufacturer,
			OSVersion:    req.DeviceInfo.OSVersion,
			AppVersion:   req.DeviceInfo.AppVersion,
		},
		IntegrityToken: req.IntegrityToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidEnrollment):
			devicesdk.ErrInvalidEnrollment.WriteError(w)
		case errors.Is(err, service.ErrInvalidPublicKey):
			devicesdk.ErrInvalidPublicKey.WriteError(w)
		case errors.Is(err, service.ErrDuplicateDevice):
			devicesdk.ErrDuplicateDevice.WriteError(w)
		default:
			log.Error("enrollment failed", "err", err)
			devicesdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, devicesdk.EnrollResponse{
		DeviceKeyID:     key.ID,
		UserID:          key.UserID,
		DeviceID:        key.DeviceID,
		Algorithm:       key.Algorithm,
		Label:           key.Label,
		IntegrityStatus: key.IntegrityStatus,
		CreatedAt:       key.CreatedAt,
	})
}
