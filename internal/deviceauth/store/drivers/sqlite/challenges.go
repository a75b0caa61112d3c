package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
)

type challengesRepo struct {
	db dbtx
}

const challengeColumns = `id, session_id, nonce, origin, audience, created_at, expires_at,
	used_at, verified_by_device_id`

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO challenges (id, session_id, nonce, origin, audience, created_at, expires_at,
			used_at, verified_by_device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Nonce, c.Origin, c.Audience, c.CreatedAt, c.ExpiresAt,
		mapOptionalTime(c.UsedAt), mapOptionalString(c.VerifiedByDeviceID),
	)
	if err != nil && isUniqueViolation(err) {
		// The partial unique index on (session_id) WHERE used_at IS NULL
		// enforces at most one unclaimed challenge per session.
		return store.ErrAlreadyExists
	}
	return err
}

func (r *challengesRepo) GetChallengeBySessionID(ctx context.Context, sessionID string) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID,
	)
	return scanChallenge(row)
}

// ClaimChallenge is the single atomic state transition in the whole protocol.
// The predicate `used_at IS NULL` is evaluated by sqlite inside the same
// UPDATE, so of N concurrent callers exactly one sees RowsAffected == 1.
func (r *challengesRepo) ClaimChallenge(ctx context.Context, id string, deviceKeyID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE challenges
		SET used_at = ?, verified_by_device_id = ?
		WHERE id = ? AND used_at IS NULL`,
		at, deviceKeyID, id,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at < ?`,
		now,
	)
	return err
}

func scanChallenge(row *sql.Row) (domain.Challenge, error) {
	var (
		c        domain.Challenge
		usedAt   sql.NullTime
		deviceID sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.SessionID, &c.Nonce, &c.Origin, &c.Audience, &c.CreatedAt, &c.ExpiresAt,
		&usedAt, &deviceID,
	)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}

	c.UsedAt = mapNullTime(usedAt)
	c.VerifiedByDeviceID = mapNullString(deviceID)

	return c, nil
}
