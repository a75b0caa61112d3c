package service

import (
	"context"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/pkg/idx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// AuditRecorder appends protocol events to the audit trail. Appending must
// never fail the caller: a verification that succeeded stays successful even
// if the trail write does not, so errors are logged locally and swallowed.
type AuditRecorder struct {
	Store store.Store
}

// Record appends one event, filling in ID and CreatedAt.
func (r *AuditRecorder) Record(ctx context.Context, e domain.AuditEvent) {
	e.ID = idx.New().String()
	e.CreatedAt = time.Now().UTC()

	if err := r.Store.AuditEvents().AppendAuditEvent(ctx, e); err != nil {
		slogx.FromContext(ctx).Error("audit event write failed",
			"event_type", e.EventType,
			"failure_reason", e.FailureReason,
			"error", err,
		)
	}
}

// Failure records a CHALLENGE_FAILED event with the given reason. References
// may be nil when the failure happened before the entity was resolved.
func (r *AuditRecorder) Failure(ctx context.Context, reason string, userID, deviceKeyID, challengeID *string, metadata map[string]any) {
	r.Record(ctx, domain.AuditEvent{
		EventType:     domain.EventChallengeFailed,
		UserID:        userID,
		DeviceKeyID:   deviceKeyID,
		ChallengeID:   challengeID,
		Success:       false,
		FailureReason: reason,
		Metadata:      metadata,
	})
}
