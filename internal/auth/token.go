// Package auth mints and reads the bearer tokens identities connect with.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/coachrtc/internal/domain"
)

const issuer = "coachrtc"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity turns the claims into an identity carrying token.
func (c *Claims) Identity(token string) (domain.Identity, error) {
	role, err := domain.ParseRole(c.Role)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.NewIdentity(domain.UserID(c.Subject), role, token)
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Mint(id domain.UserID, role domain.Role) (string, error) {
	if !role.Valid() {
		return "", domain.ErrRoleUnknown
	}
	now := i.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse verifies signature and expiry and returns the identity behind token.
func (i *Issuer) Parse(token string) (domain.Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return domain.Identity{}, ErrInvalidToken
	}
	return claims.Identity(token)
}

// Peek reads the claims without verifying the signature. Clients use it to
// learn their own id and role from a token the backend issued.
func Peek(token string) (domain.Identity, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims.Identity(token)
}
