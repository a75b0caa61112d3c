package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store/drivers/sqlite"
	"github.com/ikanisa/deviceauth/pkg/idx"
)

func newStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func testKey(deviceID string) domain.DeviceKey {
	return domain.DeviceKey{
		ID:           idx.New().String(),
		UserID:       "user-1",
		DeviceID:     deviceID,
		PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nstub\n-----END PUBLIC KEY-----",
		Algorithm:    domain.AlgorithmES256,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func testChallenge(sessionID string, now time.Time) domain.Challenge {
	return domain.Challenge{
		ID:        idx.New().String(),
		SessionID: sessionID,
		Nonce:     "nonce-" + sessionID,
		Origin:    "https://app.example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(2 * time.Minute),
	}
}

func TestDeviceKeyRoundTrip(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	k := testKey("device-1")
	k.Label = "phone"
	k.DeviceInfo = domain.DeviceInfo{Model: "Pixel 9", OSVersion: "15"}
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, k))

	got, err := st.DeviceKeys().GetActiveDeviceKey(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)
	assert.Equal(t, "phone", got.Label)
	assert.Equal(t, "Pixel 9", got.DeviceInfo.Model)
	assert.Nil(t, got.RevokedAt)

	_, err = st.DeviceKeys().GetActiveDeviceKey(ctx, "device-ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOneActiveKeyPerDevice(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	first := testKey("device-1")
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, first))

	// Second active key for the same device trips the partial unique index.
	err := st.DeviceKeys().CreateDeviceKey(ctx, testKey("device-1"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// After revocation a replacement key is allowed and the revoked row stays.
	require.NoError(t, st.DeviceKeys().RevokeDeviceKey(ctx, first.ID, time.Now().UTC()))
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, testKey("device-1")))

	keys, err := st.DeviceKeys().ListUserDeviceKeys(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestRevokeIsIdempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	k := testKey("device-1")
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, k))

	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.DeviceKeys().RevokeDeviceKey(ctx, k.ID, first))
	require.NoError(t, st.DeviceKeys().RevokeDeviceKey(ctx, k.ID, first.Add(time.Hour)))

	got, err := st.DeviceKeys().GetDeviceKeyByID(ctx, k.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(first), "original revoked_at must be preserved")
}

func TestGetChallengeBySessionReturnsNewest(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testChallenge("sess-1", now.Add(-5*time.Minute))
	usedAt := now.Add(-4 * time.Minute)
	old.UsedAt = &usedAt
	require.NoError(t, st.Challenges().CreateChallenge(ctx, old))
	fresh := testChallenge("sess-1", now)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, fresh))

	got, err := st.Challenges().GetChallengeBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.ID)
}

func TestOneLiveChallengePerSession(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Challenges().CreateChallenge(ctx, testChallenge("sess-1", now)))

	// A second unclaimed row for the session trips the partial unique index.
	err := st.Challenges().CreateChallenge(ctx, testChallenge("sess-1", now))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// Claiming the live challenge frees the slot.
	key := testKey("device-1")
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, key))
	live, err := st.Challenges().GetChallengeBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	claimed, err := st.Challenges().ClaimChallenge(ctx, live.ID, key.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, st.Challenges().CreateChallenge(ctx, testChallenge("sess-1", now.Add(time.Second))))
}

func TestClaimChallengeExactlyOnce(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	c := testChallenge("sess-1", time.Now().UTC())
	require.NoError(t, st.Challenges().CreateChallenge(ctx, c))

	key := testKey("device-1")
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, key))

	claimed, err := st.Challenges().ClaimChallenge(ctx, c.ID, key.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = st.Challenges().ClaimChallenge(ctx, c.ID, key.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := st.Challenges().GetChallengeBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.UsedAt)
	require.NotNil(t, got.VerifiedByDeviceID)
	assert.Equal(t, key.ID, *got.VerifiedByDeviceID)
}

func TestClaimChallengeConcurrent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	c := testChallenge("sess-1", time.Now().UTC())
	require.NoError(t, st.Challenges().CreateChallenge(ctx, c))

	key := testKey("device-1")
	require.NoError(t, st.DeviceKeys().CreateDeviceKey(ctx, key))

	const callers = 16
	results := make([]bool, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = st.Challenges().ClaimChallenge(ctx, c.ID, key.ID, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	var winners int
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestDeleteExpiredChallenges(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	dead := testChallenge("sess-dead", now.Add(-10*time.Minute))
	dead.ExpiresAt = now.Add(-8 * time.Minute)
	require.NoError(t, st.Challenges().CreateChallenge(ctx, dead))
	require.NoError(t, st.Challenges().CreateChallenge(ctx, testChallenge("sess-live", now)))

	require.NoError(t, st.Challenges().DeleteExpiredChallenges(ctx, now))

	_, err := st.Challenges().GetChallengeBySessionID(ctx, "sess-dead")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Challenges().GetChallengeBySessionID(ctx, "sess-live")
	assert.NoError(t, err)
}

func TestAuditTrailOrdering(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	challengeID := idx.New().String()
	base := time.Now().UTC().Truncate(time.Second)
	for i, eventType := range []string{domain.EventChallengeIssued, domain.EventChallengeFailed, domain.EventChallengeVerified} {
		require.NoError(t, st.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
			ID:          idx.New().String(),
			EventType:   eventType,
			ChallengeID: &challengeID,
			Success:     eventType != domain.EventChallengeFailed,
			Metadata:    map[string]any{"step": i},
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := st.AuditEvents().ListAuditEventsByChallenge(ctx, challengeID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventChallengeIssued, events[0].EventType)
	assert.Equal(t, domain.EventChallengeVerified, events[2].EventType)
	assert.Equal(t, float64(1), events[1].Metadata["step"])
}

func TestWithTxRollsBackOnError(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.DeviceKeys().CreateDeviceKey(ctx, testKey("device-tx")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = st.DeviceKeys().GetActiveDeviceKey(ctx, "device-tx")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxCommits(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return tx.DeviceKeys().CreateDeviceKey(ctx, testKey("device-tx"))
	}))

	_, err := st.DeviceKeys().GetActiveDeviceKey(ctx, "device-tx")
	assert.NoError(t, err)
}
