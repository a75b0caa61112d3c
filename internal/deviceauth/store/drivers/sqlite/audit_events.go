package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) AppendAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	metadata := []byte("{}")
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, user_id, device_key_id, challenge_id,
			success, failure_reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, mapOptionalString(e.UserID), mapOptionalString(e.DeviceKeyID),
		mapOptionalString(e.ChallengeID), e.Success, e.FailureReason, string(metadata), e.CreatedAt,
	)
	return err
}

func (r *auditEventsRepo) ListAuditEventsByChallenge(ctx context.Context, challengeID string) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, user_id, device_key_id, challenge_id,
			success, failure_reason, metadata, created_at
		FROM audit_events
		WHERE challenge_id = ?
		ORDER BY created_at ASC, id ASC`,
		challengeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e            domain.AuditEvent
			userID       sql.NullString
			deviceKeyID  sql.NullString
			challengeRef sql.NullString
			metadata     string
		)
		if err := rows.Scan(
			&e.ID, &e.EventType, &userID, &deviceKeyID, &challengeRef,
			&e.Success, &e.FailureReason, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.UserID = mapNullString(userID)
		e.DeviceKeyID = mapNullString(deviceKeyID)
		e.ChallengeID = mapNullString(challengeRef)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, err
			}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}
