package devicesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the device authentication service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client with a sane default timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enroll registers a device public key.
func (c *Client) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResponse, error) {
	var out EnrollResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/device-auth/enroll", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestChallenge asks for a fresh challenge for a login session.
func (c *Client) RequestChallenge(ctx context.Context, req ChallengeRequest) (*ChallengeResponse, error) {
	var out ChallengeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/device-auth/challenge", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify submits a signed challenge answer.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/device-auth/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDevices returns all of a user's enrolled keys, revoked included.
func (c *Client) ListDevices(ctx context.Context, userID string) (*DevicesResponse, error) {
	path := "/v1/device-auth/devices?user_id=" + url.QueryEscape(userID)
	var out DevicesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeDevice soft-revokes a device key by id.
func (c *Client) RevokeDevice(ctx context.Context, deviceKeyID string) error {
	path := "/v1/device-auth/devices/" + url.PathEscape(deviceKeyID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Livez checks the liveness probe.
func (c *Client) Livez(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/livez", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends an optional JSON body and decodes either the success payload
// into out or an error payload into a *ProtocolError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response into a *ProtocolError, falling back to
// a generic one when the body is not the expected shape.
func decodeError(resp *http.Response) error {
	var payload struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Code == "" {
		return &ProtocolError{
			StatusCode:  resp.StatusCode,
			Code:        ErrorCodeServerError,
			Description: fmt.Sprintf("unexpected response with status %d", resp.StatusCode),
		}
	}
	return &ProtocolError{
		StatusCode:  resp.StatusCode,
		Code:        payload.Code,
		Description: payload.Description,
	}
}
