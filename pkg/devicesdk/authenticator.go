package devicesdk

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ikanisa/deviceauth/pkg/sigx"
)

// messageVersion is the signed payload version this SDK produces.
const messageVersion = "1"

// Authenticator drives the device side of the protocol: it holds the device's
// signer (hardware-backed in production, in-memory in tests) and its stable
// identifiers, and answers challenges with correctly canonicalized signatures.
type Authenticator struct {
	Client   *Client
	Signer   sigx.Signer
	UserID   string
	DeviceID string
}

func NewAuthenticator(client *Client, signer sigx.Signer, userID, deviceID string) *Authenticator {
	return &Authenticator{
		Client:   client,
		Signer:   signer,
		UserID:   userID,
		DeviceID: deviceID,
	}
}

// Enroll registers this device's public key with the service.
func (a *Authenticator) Enroll(ctx context.Context, label string, info DeviceInfo, integrityToken string) (*EnrollResponse, error) {
	pem, err := a.Signer.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("export public key: %w", err)
	}

	return a.Client.Enroll(ctx, EnrollRequest{
		UserID:         a.UserID,
		DeviceID:       a.DeviceID,
		PublicKey:      string(pem),
		Algorithm:      a.Signer.Algorithm(),
		Label:          label,
		DeviceInfo:     info,
		IntegrityToken: integrityToken,
	})
}

// SignChallenge builds and signs the canonical answer to a challenge. The
// returned request is ready for Client.Verify.
func (a *Authenticator) SignChallenge(challenge *ChallengeResponse, scope []string, integrityToken string) (VerifyRequest, error) {
	if scope == nil {
		scope = []string{}
	}

	msg := SignedMessage{
		Ver:       messageVersion,
		UserID:    a.UserID,
		DeviceID:  a.DeviceID,
		SessionID: challenge.SessionID,
		Origin:    challenge.Origin,
		Nonce:     challenge.Nonce,
		TS:        time.Now().Unix(),
		Scope:     scope,
		Alg:       a.Signer.Algorithm(),
	}

	canonical, err := sigx.CanonicalJSON(msg)
	if err != nil {
		return VerifyRequest{}, fmt.Errorf("canonicalize message: %w", err)
	}

	sig, err := a.Signer.Sign(canonical)
	if err != nil {
		return VerifyRequest{}, fmt.Errorf("sign message: %w", err)
	}

	return VerifyRequest{
		SessionID:      challenge.SessionID,
		DeviceID:       a.DeviceID,
		Message:        msg,
		Signature:      base64.RawURLEncoding.EncodeToString(sig),
		IntegrityToken: integrityToken,
	}, nil
}

// Authenticate runs the full flow for a session: request a challenge, sign
// it, and submit the answer.
func (a *Authenticator) Authenticate(ctx context.Context, sessionID, origin string, scope []string) (*VerifyResponse, error) {
	challenge, err := a.Client.RequestChallenge(ctx, ChallengeRequest{
		SessionID: sessionID,
		Origin:    origin,
	})
	if err != nil {
		return nil, err
	}

	req, err := a.SignChallenge(challenge, scope, "")
	if err != nil {
		return nil, err
	}

	return a.Client.Verify(ctx, req)
}
