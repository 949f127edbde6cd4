package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{
		Secret:        "test-secret",
		AccessExpiry:  30 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
		AdminUsername: "admin",
		AdminPassword: "s3cret",
	})
	require.NoError(t, err)
	return s
}

func TestNewServiceRequiresConfig(t *testing.T) {
	_, err := NewService(Config{AdminUsername: "a", AdminPassword: "b"})
	assert.Error(t, err)

	_, err = NewService(Config{Secret: "x"})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	pair, err := s.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, int64(1800), pair.ExpiresIn)

	user, err := s.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.UserID)
	assert.Equal(t, RoleAdmin, user.Role)

	_, err = s.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "someone", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshTokenCannotAuthenticate(t *testing.T) {
	s := newTestService(t)
	pair, err := s.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)

	_, err = s.ValidateToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestRefresh(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	pair, err := s.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)

	next, err := s.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)

	// single use
	_, err = s.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrRevokedToken)

	_, err = s.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestLogout(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	pair, err := s.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, pair.AccessToken))
	_, err = s.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
}

func TestExpiredToken(t *testing.T) {
	s := newTestService(t)
	pair, err := s.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = s.ValidateToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsForeignSignature(t *testing.T) {
	s := newTestService(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "admin",
		"type":    TokenTypeAccess,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
