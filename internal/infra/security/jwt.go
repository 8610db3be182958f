package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// ErrInvalidToken indicates a bearer token failed parsing or validation.
var ErrInvalidToken = errors.New("jwt: invalid token")

// AccessTokenClaims are the identity-service claims this service relies on.
type AccessTokenClaims struct {
	Roles    []string `json:"roles,omitempty"`
	UserID   string   `json:"uid"`
	TenantID string   `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// ActorID returns the acting user, preferring uid over sub.
func (c *AccessTokenClaims) ActorID() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// TokenVerifier validates HS256 access tokens against a shared secret.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenVerifier constructs a verifier. Issuer and audience are checked only when set.
func NewTokenVerifier(secret, issuer, audience string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt: secret is required")
	}
	return &TokenVerifier{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		now:      time.Now,
	}, nil
}

// WithNow overrides the verifier clock.
func (v *TokenVerifier) WithNow(now func() time.Time) *TokenVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify parses the raw token and returns its claims.
func (v *TokenVerifier) Verify(raw string) (*AccessTokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ActorID() == "" {
		return nil, ErrInvalidToken
	}

	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// AccessTokenOptions configures Sign.
type AccessTokenOptions struct {
	UserID   string
	TenantID string
	Roles    []string
	TTL      time.Duration
}

const defaultAccessTokenTTL = 15 * time.Minute

// Sign issues a token with the verifier's secret. Used by tests and local tooling.
func (v *TokenVerifier) Sign(opts AccessTokenOptions) (string, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return "", fmt.Errorf("jwt: user id is required")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}

	now := v.now().UTC()
	claims := &AccessTokenClaims{
		Roles:    normalizeRoles(opts.Roles),
		UserID:   userID,
		TenantID: strings.TrimSpace(opts.TenantID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
