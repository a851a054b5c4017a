package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoJWTSecret = errors.New("JWT_SECRET is not configured")

// IssueAdminToken signs an HS256 token for the ops admin API. The subject
// must be one of OWNER_IDS for the token to be accepted.
func IssueAdminToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoJWTSecret
	}
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": "admin",
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
