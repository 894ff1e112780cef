package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

const defaultSessionTTLHours = 168 // 7 days

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionClaims is the payload of a bearer session token handed out after a
// successful code login.
type SessionClaims struct {
	Email        string `json:"email"`
	CredentialID uint   `json:"credential_id"`
	jwt.RegisteredClaims
}

func signingKey() ([]byte, error) {
	key := strings.TrimSpace(env.GetEnv("SESSION_TOKEN_SECRET", ""))
	if key == "" {
		return nil, errors.New("SESSION_TOKEN_SECRET is not configured")
	}
	return []byte(key), nil
}

func sessionTTL() time.Duration {
	hours := env.GetEnvInt("SESSION_TOKEN_TTL_HOURS", defaultSessionTTLHours)
	if hours <= 0 {
		hours = defaultSessionTTLHours
	}
	return time.Duration(hours) * time.Hour
}

// IssueSessionToken mints a signed HS256 token for a verified login.
func IssueSessionToken(email string, credentialID uint) (string, time.Time, error) {
	key, err := signingKey()
	if err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	expiresAt := now.Add(sessionTTL())
	claims := SessionClaims{
		Email:        email,
		CredentialID: credentialID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "skillscert-api",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseSessionToken validates signature and expiry and returns the claims.
// The signing method is pinned to HMAC so an attacker cannot downgrade to
// "none" or swap in an asymmetric key.
func ParseSessionToken(tokenString string) (*SessionClaims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Email) == "" || claims.CredentialID == 0 {
		return nil, ErrInvalidSessionToken
	}
	return claims, nil
}
