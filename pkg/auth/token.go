package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried by access tokens. The tenant
// binding is mandatory; bucket and sheet id let downstream handlers
// resolve storage without a directory lookup.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Bucket   string   `json:"bucket"`
	SheetID  string   `json:"sheet_id"`
	Roles    []string `json:"roles"`
}

// Issuer signs and validates HS256 access tokens.
type Issuer struct {
	secret []byte
	expiry time.Duration
}

// NewIssuer creates an Issuer. expireMinutes of zero falls back to 24h.
func NewIssuer(secret string, expireMinutes int) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: JWT secret must not be empty")
	}
	if expireMinutes <= 0 {
		expireMinutes = 24 * 60
	}
	return &Issuer{
		secret: []byte(secret),
		expiry: time.Duration(expireMinutes) * time.Minute,
	}, nil
}

// Issue creates a signed token for the user. Returns the compact token
// and its expiry time.
func (i *Issuer) Issue(u *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.expiry)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TenantID: u.TenantID,
		Bucket:   u.Bucket,
		SheetID:  u.SheetID,
		Roles:    u.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses and validates a token string.
func (i *Issuer) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}
