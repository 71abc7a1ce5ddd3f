package service

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/repository"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *storage.Postgres {
	t.Helper()

	db, err := storage.Open(sqlite.Open(":memory:"), storage.PostgresOptions{
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestAuthLoginFlow(t *testing.T) {
	svc := NewAuthService(repository.NewUserRepository(newTestDB(t)), "test-secret", 1)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureAdmin(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = svc.Login(ctx, "ops@octra.test", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = svc.Login(ctx, "nobody@octra.test", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	token, err := svc.Login(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@octra.test", claims["email"])
	assert.Equal(t, "admin", claims["role"])
}

func TestEnsureAdminWithoutCredentials(t *testing.T) {
	svc := NewAuthService(repository.NewUserRepository(newTestDB(t)), "test-secret", 1)

	created, err := svc.EnsureAdmin(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService(repository.NewUserRepository(newTestDB(t)), "test-secret", 1)

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		defer func() { svc.now = time.Now }()

		require.NoError(t, svc.Register(context.Background(), "old@octra.test", "pw", "Old"))
		token, err := svc.Login(context.Background(), "old@octra.test", "pw")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"email": "x@octra.test",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("other-secret"))
		require.NoError(t, err)

		_, err = svc.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("alg none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"email": "x@octra.test",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(signed)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.jwt")
		assert.Error(t, err)
	})
}
