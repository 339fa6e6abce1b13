package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueToken signs claims with HS256. Subject, ID, IssuedAt and ExpiresAt
// are filled in here; ID is a fresh uuid so the token can be revoked.
func IssueToken(key []byte, issuer string, ttl time.Duration, subject string, claims Claims) (string, *Claims, error) {
	if len(key) == 0 {
		return "", nil, fmt.Errorf("signing key is required")
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, &claims, nil
}
