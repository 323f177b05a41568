package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// Claims is the bearer token payload issued by the login collaborator.
type Claims struct {
	UserID    int64   `json:"user_id"`
	Role      string  `json:"role"`
	ChurchIDs []int64 `json:"church_ids,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts claims into the request identity.
func (c Claims) Identity() shared.Identity {
	return shared.Identity{UserID: c.UserID, Role: c.Role, ChurchIDs: c.ChurchIDs}
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier. An empty secret is rejected.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Parse verifies the token signature and expiry and returns its identity.
func (v *Verifier) Parse(token string) (shared.Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return shared.Identity{}, fmt.Errorf("%w: invalid or expired token", shared.ErrUnauthorized)
	}
	if claims.UserID <= 0 {
		return shared.Identity{}, fmt.Errorf("%w: token carries no user", shared.ErrUnauthorized)
	}
	switch claims.Role {
	case shared.RoleAdmin, shared.RoleUser:
	default:
		return shared.Identity{}, fmt.Errorf("%w: unknown role %q", shared.ErrUnauthorized, claims.Role)
	}
	return claims.Identity(), nil
}

// Sign issues a token for identity; used by the seed script and tests.
func (v *Verifier) Sign(id shared.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    id.UserID,
		Role:      id.Role,
		ChurchIDs: id.ChurchIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
