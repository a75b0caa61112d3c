package devicesdk

import "time"

// DeviceInfo is optional descriptive metadata sent at enrollment.
type DeviceInfo struct {
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
}

// EnrollRequest registers a device public key.
type EnrollRequest struct {
	UserID         string     `json:"user_id"`
	DeviceID       string     `json:"device_id"`
	PublicKey      string     `json:"public_key"` // PEM, PKIX
	Algorithm      string     `json:"algorithm"`  // ES256 | Ed25519
	Label          string     `json:"label,omitempty"`
	DeviceInfo     DeviceInfo `json:"device_info,omitempty"`
	IntegrityToken string     `json:"integrity_token,omitempty"`
}

// EnrollResponse describes the stored key.
type EnrollResponse struct {
	DeviceKeyID     string    `json:"device_key_id"`
	UserID          string    `json:"user_id"`
	DeviceID        string    `json:"device_id"`
	Algorithm       string    `json:"algorithm"`
	Label           string    `json:"label,omitempty"`
	IntegrityStatus string    `json:"integrity_status,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChallengeRequest asks for a fresh challenge for a login session.
type ChallengeRequest struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
	Audience  string `json:"audience,omitempty"`
}

// ChallengeResponse is the material the device must sign, plus a compact
// token form suitable for QR codes and push payloads.
type ChallengeResponse struct {
	SessionID      string    `json:"session_id"`
	Nonce          string    `json:"nonce"`
	Origin         string    `json:"origin"`
	Audience       string    `json:"audience,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	ChallengeToken string    `json:"challenge_token,omitempty"`
}

// SignedMessage is the payload the device signs. Field order here is
// irrelevant: both sides canonicalize to sorted-key compact JSON before
// signing and verifying.
type SignedMessage struct {
	Ver       string   `json:"ver"`
	UserID    string   `json:"user_id"`
	DeviceID  string   `json:"device_id"`
	SessionID string   `json:"session_id"`
	Origin    string   `json:"origin"`
	Nonce     string   `json:"nonce"`
	TS        int64    `json:"ts"`
	Scope     []string `json:"scope"`
	Alg       string   `json:"alg"`
}

// VerifyRequest submits a signed challenge answer. DeviceID travels outside
// the signed message as well; the server cross-checks it against the signed
// copy so neither side can be swapped alone.
type VerifyRequest struct {
	SessionID      string        `json:"session_id"`
	DeviceID       string        `json:"device_id"`
	Message        SignedMessage `json:"message"`
	Signature      string        `json:"signature"` // base64url, no padding
	IntegrityToken string        `json:"integrity_token,omitempty"`
}

// VerifyResponse identifies the authenticated device.
type VerifyResponse struct {
	Verified        bool   `json:"verified"`
	UserID          string `json:"user_id"`
	DeviceID        string `json:"device_id"`
	DeviceKeyID     string `json:"device_key_id"`
	SessionID       string `json:"session_id"`
	Label           string `json:"label,omitempty"`
	IntegrityStatus string `json:"integrity_status,omitempty"`
}

// DeviceSummary is one enrolled key in a device listing.
type DeviceSummary struct {
	DeviceKeyID     string     `json:"device_key_id"`
	DeviceID        string     `json:"device_id"`
	Label           string     `json:"label,omitempty"`
	Algorithm       string     `json:"algorithm"`
	IntegrityStatus string     `json:"integrity_status,omitempty"`
	DeviceInfo      DeviceInfo `json:"device_info,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// DevicesResponse lists a user's enrolled keys, revoked included.
type DevicesResponse struct {
	Devices []DeviceSummary `json:"devices"`
}

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}
