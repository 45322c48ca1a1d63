package ports

import "time"

type AdminClaims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type TokenSigner interface {
	Sign(claims AdminClaims) (string, error)
	Parse(token string) (AdminClaims, error)
}
