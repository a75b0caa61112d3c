package domain

import "time"

// Challenge is a single-use, time-bounded nonce bound to a session and
// origin. used_at is written exactly once, by the conditional claim in the
// challenge store, never by application-level read-then-write.
type Challenge struct {
	ID        string
	SessionID string // unique per live challenge
	Nonce     string // random, unguessable, >=128 bits entropy
	Origin    string // expected relying-party origin
	Audience  string

	CreatedAt time.Time
	ExpiresAt time.Time

	UsedAt             *time.Time
	VerifiedByDeviceID *string // DeviceKey.ID that won the claim
}

// Used reports whether the challenge has already been claimed.
func (c Challenge) Used() bool { return c.UsedAt != nil }

// Expired reports whether the challenge's lifetime has passed at now.
func (c Challenge) Expired(now time.Time) bool { return !now.Before(c.ExpiresAt) }

// Live reports whether the challenge can still be verified: unclaimed and
// unexpired. Used by issuance to enforce one live challenge per session.
func (c Challenge) Live(now time.Time) bool { return !c.Used() && !c.Expired(now) }
