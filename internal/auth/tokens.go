package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tetbloom/tetbloom/internal/platform/httpx"
)

const purposeSetPassword = "set_password"

// ErrInvalidToken is returned for expired, forged or misused invite tokens.
var ErrInvalidToken = fmt.Errorf("auth: invalid or expired link: %w", httpx.ErrValidation)

type inviteClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// InviteTokens signs the links sent to new users so they can set a password.
type InviteTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewInviteTokens builds an HS256 token issuer.
func NewInviteTokens(secret string, ttl time.Duration) *InviteTokens {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &InviteTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a set-password token for userID.
func (t *InviteTokens) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: invite token needs a user id")
	}
	now := t.now()
	claims := inviteClaims{
		Purpose: purposeSetPassword,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates raw and returns the user id it was issued for.
func (t *InviteTokens) Parse(raw string) (string, error) {
	var claims inviteClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.Purpose != purposeSetPassword || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
