package application

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const RoleAdmin = "admin"

type AdminSession struct {
	Token     string
	ExpiresAt time.Time
}

func (s *Service) AdminLogin(ctx context.Context, username, password string) (AdminSession, error) {
	if s.hasher == nil || s.tokens == nil || s.cfg.AdminPasswordHash == "" {
		return AdminSession{}, fmt.Errorf("%w: admin login is not configured", domain.ErrUnauthorized)
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.cfg.AdminUsername)) == 1
	// The password is checked even when the username does not match.
	passErr := s.hasher.Compare(s.cfg.AdminPasswordHash, password)
	if !userOK || passErr != nil {
		s.logger.WarnContext(ctx, "admin login failed",
			"operation", "admin_login",
			"outcome", "failure",
		)
		return AdminSession{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}

	expires := s.nowFn().Add(s.cfg.AdminTokenTTL).UTC()
	token, err := s.tokens.Sign(ports.AdminClaims{
		Subject:   s.cfg.AdminUsername,
		Role:      RoleAdmin,
		ExpiresAt: expires,
	})
	if err != nil {
		return AdminSession{}, fmt.Errorf("sign admin token: %w", err)
	}
	s.logger.InfoContext(ctx, "admin login succeeded", "operation", "admin_login", "outcome", "success")
	return AdminSession{Token: token, ExpiresAt: expires}, nil
}

// AuthenticateAdmin validates a bearer token and returns the admin actor.
func (s *Service) AuthenticateAdmin(token string) (Actor, error) {
	if s.tokens == nil {
		return Actor{}, fmt.Errorf("%w: admin tokens are not configured", domain.ErrUnauthorized)
	}
	claims, err := s.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Role != RoleAdmin {
		return Actor{}, fmt.Errorf("%w: role %q", domain.ErrUnauthorized, claims.Role)
	}
	return Actor{Subject: claims.Subject, Role: claims.Role}, nil
}
