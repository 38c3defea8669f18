package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drapo/pkg/auth"
)

func newService(t *testing.T) *auth.JWTService {
	t.Helper()
	cfg := auth.DefaultJWTConfig()
	cfg.SecretKey = "test-secret"
	s, err := auth.NewJWTService(cfg)
	require.NoError(t, err)
	return s
}

func TestJWT_RoundTrip(t *testing.T) {
	s := newService(t)

	token, err := s.GenerateToken("ci", auth.RoleOperator)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Principal())
	assert.Equal(t, auth.RoleOperator, claims.Role)
	assert.Equal(t, "drapo", claims.Issuer)
}

func TestJWT_Rejects(t *testing.T) {
	s := newService(t)

	expired, err := s.GenerateTokenWithExpiry("ci", auth.RoleViewer, -time.Minute)
	require.NoError(t, err)
	_, err = s.ValidateToken(expired)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)

	other, err := auth.NewJWTService(auth.JWTConfig{SecretKey: "other", Issuer: "drapo"})
	require.NoError(t, err)
	forged, err := other.GenerateToken("ci", auth.RoleOperator)
	require.NoError(t, err)
	_, err = s.ValidateToken(forged)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = s.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ci", "iss": "drapo", "role": "operator"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ValidateToken(raw)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_RejectsUnknownRole(t *testing.T) {
	s := newService(t)
	token, err := s.GenerateToken("ci", auth.Role("root"))
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidClaims)
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := auth.NewJWTService(auth.DefaultJWTConfig())
	assert.Error(t, err)
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, auth.RoleOperator.HasPermission(auth.RoleViewer))
	assert.True(t, auth.RoleViewer.HasPermission(auth.RoleViewer))
	assert.False(t, auth.RoleViewer.HasPermission(auth.RoleOperator))
	assert.False(t, auth.Role("").HasPermission(auth.RoleViewer))

	_, err := auth.ParseRole("admin")
	assert.Error(t, err)
}

func TestStaticKeyStore(t *testing.T) {
	assert.Nil(t, auth.NewStaticKeyStore("", auth.RoleOperator))

	store := auth.NewStaticKeyStore("s3cret", auth.RoleOperator)
	ctx := context.Background()

	info, err := store.ValidateKey(ctx, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOperator, info.Role)

	_, err = store.ValidateKey(ctx, "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = store.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}
