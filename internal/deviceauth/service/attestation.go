package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
)

// AttestationClient wraps the external device-integrity service. The verdict
// is advisory: the protocol records it but a valid signature stands on its
// own unless the hard-gate policy is switched on.
type AttestationClient interface {
	CheckIntegrity(ctx context.Context, integrityToken string) (domain.IntegrityVerdict, error)
}

// HTTPAttestationClient posts integrity tokens to a verdict endpoint. It
// carries its own bounded timeout so a slow attestation backend cannot stall
// verification; the challenge is already claimed by the time this runs.
type HTTPAttestationClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// DefaultAttestationTimeout bounds the verdict call independent of the
// caller's context.
const DefaultAttestationTimeout = 3 * time.Second

func NewHTTPAttestationClient(baseURL string, timeout time.Duration) *HTTPAttestationClient {
	if timeout <= 0 {
		timeout = DefaultAttestationTimeout
	}
	return &HTTPAttestationClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPAttestationClient) CheckIntegrity(ctx context.Context, integrityToken string) (domain.IntegrityVerdict, error) {
	body, err := json.Marshal(map[string]string{"integrity_token": integrityToken})
	if err != nil {
		return domain.IntegrityVerdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/integrity/verdict", bytes.NewReader(body))
	if err != nil {
		return domain.IntegrityVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.IntegrityVerdict{}, fmt.Errorf("attestation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.IntegrityVerdict{}, fmt.Errorf("attestation service returned %d", resp.StatusCode)
	}

	var verdict domain.IntegrityVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return domain.IntegrityVerdict{}, fmt.Errorf("decode attestation verdict: %w", err)
	}

	return verdict, nil
}

// StaticAttestationClient returns a fixed verdict. It exists for tests and
// local development and must be wired explicitly; there is no implicit
// always-trust default anywhere in the protocol.
type StaticAttestationClient struct {
	Verdict domain.IntegrityVerdict
	Err     error
}

func (c *StaticAttestationClient) CheckIntegrity(ctx context.Context, integrityToken string) (domain.IntegrityVerdict, error) {
	if c.Err != nil {
		return domain.IntegrityVerdict{}, c.Err
	}
	return c.Verdict, nil
}
