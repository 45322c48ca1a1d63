package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const issuer = "aloe-signs-orders"

// JWTSigner issues HS256 tokens for the admin dashboard.
type JWTSigner struct {
	secret []byte
	nowFn  func() time.Time
}

func NewJWTSigner(secret string) (*JWTSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return &JWTSigner{secret: []byte(secret), nowFn: time.Now}, nil
}

// NewEphemeralJWTSigner uses a random secret, so tokens stop validating on restart.
func NewEphemeralJWTSigner() (*JWTSigner, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &JWTSigner{secret: secret, nowFn: time.Now}, nil
}

type adminJWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) Sign(claims ports.AdminClaims) (string, error) {
	now := s.nowFn().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminJWTClaims{
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	return token.SignedString(s.secret)
}

func (s *JWTSigner) Parse(raw string) (ports.AdminClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &adminJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(s.nowFn),
	)
	if err != nil {
		return ports.AdminClaims{}, err
	}
	claims, ok := parsed.Claims.(*adminJWTClaims)
	if !ok || !parsed.Valid {
		return ports.AdminClaims{}, errors.New("invalid token claims")
	}
	return ports.AdminClaims{
		Subject:   claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
