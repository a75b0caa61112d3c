package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ikanisa/deviceauth/internal/deviceauth/domain"
)

// ErrInvalidChallengeToken reports a challenge token that failed signature or
// claim validation.
var ErrInvalidChallengeToken = errors.New("service: invalid challenge token")

// challengeTokenIssuer identifies tokens minted by this service.
const challengeTokenIssuer = "deviceauth"

// ChallengeTokenClaims is the payload embedded in the compact token handed to
// the device (typically inside a QR code or push payload). It carries the
// challenge material so the device does not need a second fetch before
// signing.
type ChallengeTokenClaims struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
	Origin    string `json:"origin"`
	Audience  string `json:"audience,omitempty"`
	jwt.RegisteredClaims
}

// ChallengeTokenSigner mints and validates HS256 tokens wrapping an issued
// challenge. The secret is server-local; devices never validate these tokens,
// they only decode the claims, so integrity matters when the token travels
// back through untrusted channels (deep links, QR relays).
type ChallengeTokenSigner struct {
	secret []byte
}

func NewChallengeTokenSigner(secret []byte) (*ChallengeTokenSigner, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("challenge token secret must be at least 32 bytes, got %d", len(secret))
	}
	return &ChallengeTokenSigner{secret: secret}, nil
}

// Sign wraps a freshly issued challenge into a compact token expiring with it.
func (s *ChallengeTokenSigner) Sign(c domain.Challenge) (string, error) {
	claims := ChallengeTokenClaims{
		SessionID: c.SessionID,
		Nonce:     c.Nonce,
		Origin:    c.Origin,
		Audience:  c.Audience,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    challengeTokenIssuer,
			Subject:   c.ID,
			IssuedAt:  jwt.NewNumericDate(c.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge token: %w", err)
	}
	return token, nil
}

// Parse validates a challenge token and returns its claims.
func (s *ChallengeTokenSigner) Parse(token string) (ChallengeTokenClaims, error) {
	var claims ChallengeTokenClaims

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithIssuer(challengeTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil || !parsed.Valid {
		return ChallengeTokenClaims{}, ErrInvalidChallengeToken
	}

	return claims, nil
}
