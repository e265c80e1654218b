// Package auth issues and validates the HS256 bearer tokens that carry a
// caller's tenant, role and origin country.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("jwt secret is not configured")
)

const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleViewer = "viewer"
)

// Claims are the token claims. TenantID partitions every policy, ledger
// and audit lookup made on behalf of the caller.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Country  string `json:"country,omitempty"`
}

// Tenant parses the tenant claim
func (c *Claims) Tenant() (uuid.UUID, error) {
	if c.TenantID == "" {
		return uuid.Nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	id, err := uuid.Parse(c.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant_id UUID: %w", err)
	}
	return id, nil
}

// HasRole reports whether the caller holds role
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

// IsAdmin checks if the caller is an admin
func (c *Claims) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// Config holds configuration for Validator
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Validator validates HS256 tokens signed with a shared secret
type Validator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewValidator creates a new token validator
func NewValidator(config Config) (*Validator, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}
	return &Validator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		ttl:    config.TTL,
		now:    time.Now,
	}, nil
}

// ValidateToken verifies the signature, expiry and issuer and checks that
// the required claims are present
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if _, err := claims.Tenant(); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken signs a token for subject in tenant
func (v *Validator) IssueToken(subject string, tenantID uuid.UUID, role, country string) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID.String(),
		Role:     role,
		Country:  country,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
