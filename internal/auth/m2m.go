package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokens signs and verifies the HS256 tokens fulfillment partners use
// to push status updates without a user session.
type ServiceTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewServiceTokens(secret, issuer string) *ServiceTokens {
	if secret == "" {
		return nil
	}
	return &ServiceTokens{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue mints a token for subject valid for ttl.
func (s *ServiceTokens) Issue(subject string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the subject.
func (s *ServiceTokens) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid service token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("service token has no subject")
	}
	return claims.Subject, nil
}
