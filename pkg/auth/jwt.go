package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// Claims represents the JWT claims. The subject is the acting user.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
	Issuer    string
	// TenantClaim names the claim carrying the tenant when it is not tenant_id
	TenantClaim string
}

// JWTValidator validates HS256 tokens
type JWTValidator struct {
	secretKey   []byte
	issuer      string
	tenantClaim string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(config JWTConfig) (*JWTValidator, error) {
	if config.SecretKey == "" {
		return nil, errors.New("secret key required for HS256")
	}
	tenantClaim := config.TenantClaim
	if tenantClaim == "" {
		tenantClaim = "tenant_id"
	}
	return &JWTValidator{
		secretKey:   []byte(config.SecretKey),
		issuer:      config.Issuer,
		tenantClaim: tenantClaim,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	raw := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, raw, func(*jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidClaims
	}

	claims := &Claims{}
	claims.Subject, _ = raw.GetSubject()
	claims.Issuer, _ = raw.GetIssuer()
	claims.TenantID, _ = raw[v.tenantClaim].(string)
	if roles, ok := raw["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				claims.Roles = append(claims.Roles, s)
			}
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant", ErrInvalidClaims)
	}
	return claims, nil
}

// GenerateToken signs an HS256 token, used by tooling and tests
func GenerateToken(config JWTConfig, subject, tenantID string, roles []string, ttl time.Duration) (string, error) {
	if config.SecretKey == "" {
		return "", errors.New("secret key required for HS256")
	}
	tenantClaim := config.TenantClaim
	if tenantClaim == "" {
		tenantClaim = "tenant_id"
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       subject,
		tenantClaim: tenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	if config.Issuer != "" {
		claims["iss"] = config.Issuer
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.SecretKey))
}
