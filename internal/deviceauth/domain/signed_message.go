package domain

import (
	"fmt"
	"strings"

	"github.com/ikanisa/deviceauth/pkg/sigx"
)

// SignedMessageVersion is the only payload version this server understands.
const SignedMessageVersion = "1"

// SignedMessage is the payload a device signs to answer a challenge. It is
// never persisted; its canonical serialization (lexicographically sorted
// keys, compact JSON) is exactly what the signature covers, so any
// re-ordering or re-encoding on either side breaks verification.
type SignedMessage struct {
	Ver       string   `json:"ver"`
	UserID    string   `json:"user_id"`
	DeviceID  string   `json:"device_id"`
	SessionID string   `json:"session_id"`
	Origin    string   `json:"origin"`
	Nonce     string   `json:"nonce"`
	TS        int64    `json:"ts"` // unix seconds at signing time
	Scope     []string `json:"scope"`
	Alg       string   `json:"alg"`
}

// CanonicalBytes returns the exact bytes the device must have signed.
func (m SignedMessage) CanonicalBytes() ([]byte, error) {
	return sigx.CanonicalJSON(m)
}

// MissingFields returns the names of required fields that are absent.
// Scope may be empty but must be present (non-nil) in the submitted payload.
func (m SignedMessage) MissingFields() []string {
	var missing []string
	for field, ok := range map[string]bool{
		"ver":        m.Ver != "",
		"user_id":    m.UserID != "",
		"device_id":  m.DeviceID != "",
		"session_id": m.SessionID != "",
		"origin":     m.Origin != "",
		"nonce":      m.Nonce != "",
		"ts":         m.TS > 0,
		"scope":      m.Scope != nil,
		"alg":        m.Alg != "",
	} {
		if !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

// Validate performs structural validation only; binding against the
// challenge happens in the protocol.
func (m SignedMessage) Validate() error {
	if missing := m.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
