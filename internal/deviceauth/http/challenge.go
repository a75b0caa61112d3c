package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// ChallengeHandler handles POST /v1/device-auth/challenge.
type ChallengeHandler struct {
	ProtocolService *service.ProtocolService
}

func (h *ChallengeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req devicesdk.ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		devicesdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.ProtocolService.Issue(ctx, service.IssueRequest{
		SessionID: req.SessionID,
		Origin:    req.Origin,
		Audience:  req.Audience,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			devicesdk.ErrInvalidRequest.WriteError(w)
		case errors.Is(err, service.ErrSessionConflict):
			devicesdk.ErrSessionConflict.WriteError(w)
		default:
			log.Error("challenge issuance failed", "err", err)
			devicesdk.ErrServerError.WriteError(w)
		}
		return
	}

	c := res.Challenge
	httpx.WriteJSON(w, http.StatusCreated, devicesdk.ChallengeResponse{
		SessionID:      c.SessionID,
		Nonce:          c.Nonce,
		Origin:         c.Origin,
		Audience:       c.Audience,
		ExpiresAt:      c.ExpiresAt,
		ChallengeToken: res.Token,
	})
}
