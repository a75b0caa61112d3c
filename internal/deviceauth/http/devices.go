package http

import (
	"errors"
	"net/http"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// DevicesHandler handles the device listing and revocation endpoints.
type DevicesHandler struct {
	RegistryService *service.RegistryService
}

// HandleList handles GET /v1/device-auth/devices?user_id=...
func (h *DevicesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		devicesdk.ErrInvalidRequest.WriteError(w)
		return
	}

	keys, err := h.RegistryService.ListDevices(ctx, userID)
	if err != nil {
		log.Error("device listing failed", "user_id", userID, "err", err)
		devicesdk.ErrServerError.WriteError(w)
		return
	}

	devices := make([]devicesdk.DeviceSummary, 0, len(keys))
	for _, k := range keys {
		devices = append(devices, deviceSummary(k))
	}

	httpx.WriteJSON(w, http.StatusOK, devicesdk.DevicesResponse{Devices: devices})
}

// HandleRevoke handles DELETE /v1/device-auth/devices/{id}
func (h *DevicesHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	id := r.PathValue("id")
	if id == "" {
		devicesdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.RegistryService.Revoke(ctx, id); err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			devicesdk.ErrDeviceNotFound.WriteError(w)
			return
		}
		log.Error("device revocation failed", "device_key_id", id, "err", err)
		devicesdk.ErrServerError.WriteError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func deviceSummary(k domain.DeviceKey) devicesdk.DeviceSummary {
	return devicesdk.DeviceSummary{
		DeviceKeyID:     k.ID,
		DeviceID:        k.DeviceID,
		Label:           k.Label,
		Algorithm:       k.Algorithm,
		IntegrityStatus: k.IntegrityStatus,
		DeviceInfo: devicesdk.DeviceInfo{
			Model:        k.DeviceInfo.Model,
			Manufacturer: k.DeviceInfo.Manufacturer,
			OSVersion:    k.DeviceInfo.OSVersion,
			AppVersion:   k.DeviceInfo.AppVersion,
		},
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}
