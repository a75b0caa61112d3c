package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
)

type deviceKeysRepo struct {
	db dbtx
}

const deviceKeyColumns = `id, user_id, device_id, public_key, algorithm, label, device_info,
	integrity_status, last_integrity_check_at, created_at, last_used_at, revoked_at`

func (r *deviceKeysRepo) CreateDeviceKey(ctx context.Context, k domain.DeviceKey) error {
	info, err := json.Marshal(k.DeviceInfo)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_keys (id, user_id, device_id, public_key, algorithm, label, device_info,
			integrity_status, last_integrity_check_at, created_at, last_used_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.DeviceID, k.PublicKeyPEM, k.Algorithm, k.Label, string(info),
		k.IntegrityStatus, mapOptionalTime(k.LastIntegrityCheckAt), k.CreatedAt,
		mapOptionalTime(k.LastUsedAt), mapOptionalTime(k.RevokedAt),
	)
	if err != nil && isUniqueViolation(err) {
		// The partial unique index on (device_id) WHERE revoked_at IS NULL
		// enforces at most one active key per device.
		return store.ErrAlreadyExists
	}
	return err
}

func (r *deviceKeysRepo) GetActiveDeviceKey(ctx context.Context, deviceID string) (domain.DeviceKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceKeyColumns+`
		FROM device_keys
		WHERE device_id = ? AND revoked_at IS NULL`,
		deviceID,
	)
	return scanDeviceKey(row)
}

func (r *deviceKeysRepo) GetDeviceKeyByID(ctx context.Context, id string) (domain.DeviceKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceKeyColumns+`
		FROM device_keys
		WHERE id = ?`,
		id,
	)
	return scanDeviceKey(row)
}

func (r *deviceKeysRepo) ListUserDeviceKeys(ctx context.Context, userID string) ([]domain.DeviceKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceKeyColumns+`
		FROM device_keys
		WHERE user_id = ?
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.DeviceKey
	for rows.Next() {
		k, err := scanDeviceKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *deviceKeysRepo) RevokeDeviceKey(ctx context.Context, id string, at time.Time) error {
	// Idempotent: revoking an already-revoked key changes nothing and the
	// original revoked_at is preserved.
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_keys
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL`,
		at, id,
	)
	return err
}

func (r *deviceKeysRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_keys SET last_used_at = ? WHERE id = ?`,
		at, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *deviceKeysRepo) UpdateIntegrityStatus(ctx context.Context, id string, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_keys
		SET integrity_status = ?, last_integrity_check_at = ?
		WHERE id = ?`,
		status, at, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanner lets scanDeviceKey work with both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeviceKey(row scanner) (domain.DeviceKey, error) {
	var (
		k              domain.DeviceKey
		infoJSON       string
		integrityCheck sql.NullTime
		lastUsed       sql.NullTime
		revoked        sql.NullTime
	)

	err := row.Scan(
		&k.ID, &k.UserID, &k.DeviceID, &k.PublicKeyPEM, &k.Algorithm, &k.Label, &infoJSON,
		&k.IntegrityStatus, &integrityCheck, &k.CreatedAt, &lastUsed, &revoked,
	)
	if err != nil {
		return domain.DeviceKey{}, mapNotFound(err)
	}

	if infoJSON != "" {
		if err := json.Unmarshal([]byte(infoJSON), &k.DeviceInfo); err != nil {
			return domain.DeviceKey{}, err
		}
	}
	k.LastIntegrityCheckAt = mapNullTime(integrityCheck)
	k.LastUsedAt = mapNullTime(lastUsed)
	k.RevokedAt = mapNullTime(revoked)

	return k, nil
}

// isUniqueViolation sniffs the driver error text; modernc.org/sqlite does not
// export typed constraint errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
