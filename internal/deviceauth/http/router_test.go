package http_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deviceauthhttp "github.com/ikanisa/deviceauth/internal/deviceauth/http"
	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store/drivers/sqlite"
	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/sigx"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	// All requests in a test come from the same loopback IP, so the strict
	// per-IP limiter would trip on suites with more than five verify calls.
	// Raise it for the test binary; e2e covers the production default.
	httpx.StrictLimit = httpx.LenientLimit

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	tokens, err := service.NewChallengeTokenSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	router := deviceauthhttp.NewRouter("test", st, slog.Default())
	router.ProtocolService = service.NewProtocolService(st, sigx.StdVerifier{}, nil, tokens, service.ProtocolConfig{})
	router.RegistryService = service.NewRegistryService(st, nil)
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, st
}

func newAuthenticator(t *testing.T, srv *httptest.Server, userID, deviceID string) *devicesdk.Authenticator {
	t.Helper()

	priv, err := sigx.GenerateES256Key()
	require.NoError(t, err)

	return devicesdk.NewAuthenticator(devicesdk.NewClient(srv.URL), sigx.NewES256Signer(priv), userID, deviceID)
}

func TestEnrollAndAuthenticateFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	auth := newAuthenticator(t, srv, "user-1", "device-1")

	enrolled, err := auth.Enroll(ctx, "test phone", devicesdk.DeviceInfo{Model: "Pixel 9"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, enrolled.DeviceKeyID)
	assert.Equal(t, "ES256", enrolled.Algorithm)

	out, err := auth.Authenticate(ctx, "sess-1", "https://app.example.com", nil)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "user-1", out.UserID)
	assert.Equal(t, "device-1", out.DeviceID)
	assert.Equal(t, enrolled.DeviceKeyID, out.DeviceKeyID)
}

func TestVerifyReplayOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	auth := newAuthenticator(t, srv, "user-1", "device-1")
	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	challenge, err := auth.Client.RequestChallenge(ctx, devicesdk.ChallengeRequest{
		SessionID: "sess-1",
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

func TestChallengeSessionConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	client := devicesdk.NewClient(srv.URL)
	req := devicesdk.ChallengeRequest{SessionID: "sess-1", Origin: "https://app.example.com"}

	_, err := client.RequestChallenge(ctx, req)
	require.NoError(t, err)

	_, err = client.RequestChallenge(ctx, req)
	var perr *devicesdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicesdk.ErrorCodeSessionConflict, perr.Code)
}

func TestVerifyErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	auth := newAuthenticator(t, srv, "user-1", "device-1")
	_, err := auth.Enroll(ctx, "", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	challenge, err := auth.Client.RequestChallenge(ctx, devicesdk.ChallengeRequest{
		SessionID: "sess-1",
		Origin:    "https://app.example.com",
	})
	require.NoError(t, err)

	good, err := auth.SignChallenge(challenge, nil, "")
	require.NoError(t, err)

	tests := []struct {
		name       string
		mutate     func(req *devicesdk.VerifyRequest)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing nonce",
			mutate:     func(req *devicesdk.VerifyRequest) { req.Message.Nonce = "" },
			wantStatus: http.StatusBadRequest,
			wantCode:   devicesdk.ErrorCodeMalformedMessage,
		},
		{
			name:       "undecodable signature",
			mutate:     func(req *devicesdk.VerifyRequest) { req.Signature = "!!!not-base64!!!" },
			wantStatus: http.StatusBadRequest,
			wantCode:   devicesdk.ErrorCodeMalformedMessage,
		},
		{
			name:       "unknown session",
			mutate:     func(req *devicesdk.VerifyRequest) { req.SessionID = "sess-ghost" },
			wantStatus: http.StatusNotFound,
			wantCode:   devicesdk.ErrorCodeChallengeNotFound,
		},
		{
			name:       "wrong origin",
			mutate:     func(req *devicesdk.VerifyRequest) { req.Message.Origin = "https://evil.example.com" },
			wantStatus: http.StatusBadRequest,
			wantCode:   devicesdk.ErrorCodeOriginMismatch,
		},
		{
			name:       "unknown device",
			mutate:     func(req *devicesdk.VerifyRequest) { req.DeviceID = "device-ghost" },
			wantStatus: http.StatusForbidden,
			wantCode:   devicesdk.ErrorCodeDeviceNotRegistered,
		},
		{
			name:       "message signed for another device",
			mutate:     func(req *devicesdk.VerifyRequest) { req.Message.DeviceID = "device-2" },
			wantStatus: http.StatusBadRequest,
			wantCode:   devicesdk.ErrorCodeDeviceMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := good
			tc.mutate(&req)

			_, err := auth.Client.Verify(ctx, req)
			var perr *devicesdk.ProtocolError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.wantStatus, perr.StatusCode)
			assert.Equal(t, tc.wantCode, perr.Code)
		})
	}
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	auth := newAuthenticator(t, srv, "user-1", "device-1")
	enrolled, err := auth.Enroll(ctx, "old phone", devicesdk.DeviceInfo{}, "")
	require.NoError(t, err)

	// Duplicate enrollment for the same device is refused.
	_, err = auth.Enroll(ctx, "old phone again", devicesdk.DeviceInfo{}, "")
	var perr *devicesdk.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicesdk.ErrorCodeDuplicateDevice, perr.Code)

	list, err := auth.Client.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list.Devices, 1)
	assert.Equal(t, "old phone", list.Devices[0].Label)

	require.NoError(t, auth.Client.RevokeDevice(ctx, enrolled.DeviceKeyID))

	// Revoked keys stay listed, flagged.
	list, err = auth.Client.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list.Devices, 1)
	assert.NotNil(t, list.Devices[0].RevokedAt)

	// A revoked key no longer authenticates.
	_, err = auth.Authenticate(ctx, "sess-1", "https://app.example.com", nil)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, devicesdk.ErrorCodeDeviceNotRegistered, perr.Code)

	// Unknown ids are 404.
	err = auth.Client.RevokeDevice(ctx, "01J00000000000000000000000")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	client := devicesdk.NewClient(srv.URL)
	health, err := client.Livez(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Readiness flips once the database goes away.
	require.NoError(t, st.Close())
	resp2, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/livez", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
