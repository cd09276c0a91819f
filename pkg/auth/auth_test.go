package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/pkg/clock"
)

func TestValidateToken(t *testing.T) {
	cfg := JWTConfig{SecretKey: "secret", Issuer: "policyhub"}
	v, err := NewJWTValidator(cfg)
	require.NoError(t, err)

	valid, err := GenerateToken(cfg, "user-1", "acme", []string{"admin"}, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(cfg, "user-1", "acme", nil, -time.Hour)
	require.NoError(t, err)
	foreign, err := GenerateToken(JWTConfig{SecretKey: "other", Issuer: "policyhub"}, "user-1", "acme", nil, time.Hour)
	require.NoError(t, err)
	noTenant, err := GenerateToken(cfg, "user-1", "", nil, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := GenerateToken(JWTConfig{SecretKey: "secret", Issuer: "elsewhere"}, "user-1", "acme", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "valid", token: "Bearer " + valid},
		{name: "empty", token: "", wantErr: ErrMissingToken},
		{name: "expired", token: expired, wantErr: ErrExpiredToken},
		{name: "bad signature", token: foreign, wantErr: ErrInvalidSignature},
		{name: "no tenant", token: noTenant, wantErr: ErrInvalidClaims},
		{name: "wrong issuer", token: wrongIssuer, wantErr: ErrInvalidToken},
		{name: "garbage", token: "not.a.token", wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.ValidateToken(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "acme", claims.TenantID)
			assert.True(t, claims.HasRole("admin"))
		})
	}
}

func TestCustomTenantClaim(t *testing.T) {
	cfg := JWTConfig{SecretKey: "secret", TenantClaim: "org"}
	v, err := NewJWTValidator(cfg)
	require.NoError(t, err)
	token, err := GenerateToken(cfg, "user-1", "acme", nil, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)
}

func TestSlidingWindowLimiter(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewSlidingWindowLimiter(2, time.Minute, clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "acme")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "globex")
	assert.True(t, ok, "keys have separate budgets")

	clk.Advance(61 * time.Second)
	ok, _ = l.Allow(ctx, "acme")
	assert.True(t, ok)
}

func TestRedisWindowKey(t *testing.T) {
	clk := clock.NewManual(time.Unix(120, 0))
	l := NewRedisWindowLimiter(nil, 10, time.Minute, clk)
	assert.Equal(t, "ratelimit:acme:2", l.windowKey("acme"))
}
