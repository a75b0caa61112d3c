package deviceauth_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ikanisa/deviceauth/pkg/devicesdk"
	"github.com/ikanisa/deviceauth/pkg/sigx"
)

/*
 * Common helpers for device auth service end-to-end tests: container setup
 * and SDK construction against the running container.
 */

const testImageName = "deviceauth-test:latest"

// TestMain builds the Docker image once before all tests and removes it
// after the run.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building Device Auth Service Docker image...")

	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up Device Auth Service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/deviceauth/Dockerfile",
		"../../../")
	cmd.Dir = "."
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Image might not exist
}

// setupContainer starts the service with relaxed rate limits and returns its
// base URL. Use setupContainerWithDefaultRateLimits to test the limits
// themselves.
func setupContainer(t *testing.T) string {
	return startContainer(t, map[string]string{
		"DEVICEAUTH_DATABASE_FILE":          "/tmp/deviceauth.db",
		"DEVICEAUTH_CHALLENGE_TOKEN_SECRET": "e2e-test-secret-0123456789abcdef",
		"ENV":                               "test",
		"LOG_LEVEL":                         "info",
		"LOG_FORMAT":                        "json",
		// Relaxed limits so rapid test requests don't trip production limits.
		"RATELIMIT_STRICT_REQUESTS":   "1000",
		"RATELIMIT_STRICT_BURST":      "1000",
		"RATELIMIT_MODERATE_REQUESTS": "1000",
		"RATELIMIT_MODERATE_BURST":    "1000",
	})
}

func setupContainerWithDefaultRateLimits(t *testing.T) string {
	return startContainer(t, map[string]string{
		"DEVICEAUTH_DATABASE_FILE":          "/tmp/deviceauth.db",
		"DEVICEAUTH_CHALLENGE_TOKEN_SECRET": "e2e-test-secret-0123456789abcdef",
		"ENV":                               "test",
	})
}

func startContainer(t *testing.T, env map[string]string) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
}

// newES256Authenticator creates an SDK authenticator with a fresh in-memory key.
func newES256Authenticator(t *testing.T, baseURL, userID, deviceID string) *devicesdk.Authenticator {
	t.Helper()

	priv, err := sigx.GenerateES256Key()
	require.NoError(t, err)

	return devicesdk.NewAuthenticator(devicesdk.NewClient(baseURL), sigx.NewES256Signer(priv), userID, deviceID)
}

// newEd25519Authenticator creates an SDK authenticator with a fresh Ed25519 key.
func newEd25519Authenticator(t *testing.T, baseURL, userID, deviceID string) *devicesdk.Authenticator {
	t.Helper()

	priv, err := sigx.GenerateEd25519Key()
	require.NoError(t, err)

	return devicesdk.NewAuthenticator(devicesdk.NewClient(baseURL), sigx.NewEd25519Signer(priv), userID, deviceID)
}
