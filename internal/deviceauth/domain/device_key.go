package domain

import "time"

// Key algorithms accepted at enrollment.
const (
	AlgorithmES256   = "ES256"
	AlgorithmEd25519 = "Ed25519"
)

// DeviceKey is an enrolled device public key. The private half never leaves
// the device's hardware keystore; this record is everything the server knows.
// Rows are never deleted: revocation sets revoked_at and keeps the record for
// audit continuity. At most one non-revoked row exists per device_id.
type DeviceKey struct {
	ID           string
	UserID       string
	DeviceID     string // stable per physical device, unique while active
	PublicKeyPEM string
	Algorithm    string // ES256 | Ed25519
	Label        string
	DeviceInfo   DeviceInfo

	IntegrityStatus      string // last attestation verdict summary, empty if never checked
	LastIntegrityCheckAt *time.Time

	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been soft-revoked.
func (k DeviceKey) Revoked() bool { return k.RevokedAt != nil }

// DeviceInfo is descriptive metadata captured at enrollment. Purely
// informational; nothing in the protocol trusts it.
type DeviceInfo struct {
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
}
