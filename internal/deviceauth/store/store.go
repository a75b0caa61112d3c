package store

import (
	"context"
	"errors"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. Sub-repositories are exposed as methods so the
// protocol code gets compile-time-checked field access instead of the loose
// row maps the original system passed around.
type Store interface {
	DeviceKeys() DeviceKeys
	Challenges() Challenges
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns
	// nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// DeviceKeys is the key registry. Public keys are immutable once enrolled;
// rotation is revoke + fresh enrollment so old records survive for audit.
type DeviceKeys interface {
	// CreateDeviceKey inserts a new enrollment (id is provided by app via ULID).
	// Returns ErrAlreadyExists if an active key exists for the same device_id.
	CreateDeviceKey(ctx context.Context, k domain.DeviceKey) error

	// GetActiveDeviceKey returns the non-revoked key for device_id.
	GetActiveDeviceKey(ctx context.Context, deviceID string) (domain.DeviceKey, error)

	// GetDeviceKeyByID returns a key by primary id, revoked or not.
	GetDeviceKeyByID(ctx context.Context, id string) (domain.DeviceKey, error)

	// ListUserDeviceKeys returns all keys for a user, newest first,
	// including revoked ones so the audit trail stays visible.
	ListUserDeviceKeys(ctx context.Context, userID string) ([]domain.DeviceKey, error)

	// RevokeDeviceKey sets revoked_at if not already set. Idempotent.
	RevokeDeviceKey(ctx context.Context, id string, at time.Time) error

	// TouchLastUsed bumps last_used_at after a successful verification.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// UpdateIntegrityStatus records the latest attestation verdict summary.
	UpdateIntegrityStatus(ctx context.Context, id string, status string, at time.Time) error
}

// Challenges is the challenge store. A challenge is written once, read during
// verification, and mutated exactly once by ClaimChallenge.
type Challenges interface {
	// CreateChallenge stores a freshly issued challenge.
	CreateChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallengeBySessionID returns the newest challenge for a session.
	GetChallengeBySessionID(ctx context.Context, sessionID string) (domain.Challenge, error)

	// ClaimChallenge atomically sets used_at and verified_by_device_id,
	// conditioned on used_at still being NULL. The store evaluates the
	// predicate in the same operation as the write; claimed reports whether
	// this caller won. This is the anti-replay gate under concurrency.
	ClaimChallenge(ctx context.Context, id string, deviceKeyID string, at time.Time) (claimed bool, err error)

	// DeleteExpiredChallenges is housekeeping; claimed rows are kept until
	// they expire so replay attempts still audit as ReplayDetected.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}

// AuditEvents is the append-only audit sink. There is deliberately no update
// or delete.
type AuditEvents interface {
	// AppendAuditEvent inserts one trail entry.
	AppendAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// ListAuditEventsByChallenge returns the trail for one challenge,
	// oldest first, for failure-point reconstruction.
	ListAuditEventsByChallenge(ctx context.Context, challengeID string) ([]domain.AuditEvent, error)
}
