package deviceauth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikanisa/deviceauth/pkg/devicesdk"
)

func TestFullAuthenticationFlow(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	auth := newES256Authenticator(t, baseURL, "user-1", "device-1")

	enrolled, err := auth.Enroll(ctx, "pixel", devicesdk.DeviceInfo{
		Model:        "Pixel 9",
		Manufacturer: "Google",
		OSVersion:    "15",
		AppVersion:   "1.4.0",
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, enrolled.DeviceKeyID)

	out, err := auth.Authenticate(ctx, "sess-1", "https://app.example.com", []string{"login"})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "user-1", out.UserID)
	assert.Equal(t, "device-1", out.DeviceID)
	assert.Equal(t, "pixel", out.Label)
}

func TestEd25519Flow(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	auth := newEd25519Authenticator(t, baseURL, "user-ed", "device-ed")

	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	out, err := auth.Authenticate(ctx, "sess-ed", "https://app.example.com", nil)
	require.NoError(t, err)
	assert.True(t, out.Verified)
}

func TestReplayRejectedAcrossRequests(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	auth := newES256Authenticator(t, baseURL, "user-1", "device-1")
	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	challenge, err := auth.Client.RequestChallenge(ctx, devicesdk.ChallengeRequest{
		SessionID: "sess-replay",
		Origin:    "https://app.example.com",
	})
	require.NoError(t, err)

	req, err := auth.SignChallenge(challenge, nil, "")
	require.NoError(t, err)

	_, err = auth.Client.Verify(ctx, req)
	require.NoError(t, err)

	_, err = auth.Client.Verify(ctx, req)
	var perr *devicesdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusConflict, perr.StatusCode)
	assert.Equal(t, devicesdk.ErrorCodeReplayDetected, perr.Code)
}

func TestPhishedOriginRejected(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	auth := newES256Authenticator(t, baseURL, "user-1", "device-1")
	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	challenge, err := auth.Client.RequestChallenge(ctx, devicesdk.ChallengeRequest{
		SessionID: "sess-phish",
		Origin:    "https://app.example.com",
	})
	require.NoError(t, err)

	// The device saw a different origin than the one the challenge was bound
	// to, as it would when relayed through a phishing page.
	challenge.Origin = "https://login.example.net"
	req, err := auth.SignChallenge(challenge, nil, "")
	require.NoError(t, err)

	_, err = auth.Client.Verify(ctx, req)
	var perr *devicesdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicesdk.ErrorCodeOriginMismatch, perr.Code)
}

func TestDeviceManagement(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	auth := newES256Authenticator(t, baseURL, "user-1", "device-1")
	enrolled, err := auth.Enroll(ctx, "work phone", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	list, err := auth.Client.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "work phone", list.Devices[0].Label)
	assert.Nil(t, list.Devices[0].RevokedAt)

	require.NoError(t, auth.Client.RevokeDevice(ctx, enrolled.DeviceKeyID))

	_, err = auth.Authenticate(ctx, "sess-after-revoke", "https://app.example.com", nil)
	var perr *devicesdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicesdk.ErrorCodeDeviceNotRegistered, perr.Code)

	// A fresh key for the same device can be enrolled after revocation.
	replacement := newES256Authenticator(t, baseURL, "user-1", "device-1")
	_, err = replacement.Enroll(ctx, "work phone v2", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)
}

func TestHealthProbes(t *testing.T) {
	baseURL := setupContainer(t)
	ctx := context.Background()

	client := devicesdk.NewClient(baseURL)
	health, err := client.Livez(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	resp, err := http.Get(baseURL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifyRateLimited(t *testing.T) {
	baseURL := setupContainerWithDefaultRateLimits(t)
	ctx := context.Background()

	auth := newES256Authenticator(t, baseURL, "user-1", "device-1")
	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	// The strict profile allows 5 verify attempts per minute; hammering the
	// endpoint must eventually return 429.
	var limited bool
	for i := 0; i < 10; i++ {
		_, err := auth.Client.Verify(ctx, devicesdk.VerifyRequest{
			SessionID: "sess-ghost",
			Message:   devicesdk.SignedMessage{},
			Signature: "AAAA",
		})
		var perr *devicesdk.ProtocolError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected a 429 from the strict rate limit")
}
