package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/coursedesk/internal/session"
)

// TokenService issues and validates HS256 access tokens carrying the same
// claims as the real backend.
type TokenService struct {
	secretKey []byte
	ttl       time.Duration
}

// NewTokenService returns a TokenService signing with secretKey.
func NewTokenService(secretKey string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secretKey: []byte(secretKey), ttl: ttl}
}

// GenerateToken issues a token for userID with role.
func (s *TokenService) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := session.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken verifies the signature and expiry of tokenString.
func (s *TokenService) ValidateToken(tokenString string) (*session.Claims, error) {
	claims := &session.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("validating token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
