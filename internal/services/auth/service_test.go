package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	_, err = st.Update(ctx, nil, func(tx store.Tx) error {
		if err := tx.PutUser(ctx, models.User{ID: "u1", Username: "ana", PasswordHash: hash, Role: models.RoleCashier, Active: true}); err != nil {
			return err
		}
		return tx.PutUser(ctx, models.User{ID: "u2", Username: "bob", PasswordHash: hash, Role: models.RoleChef, Active: false})
	})
	require.NoError(t, err)

	return NewService(st, "test-secret", time.Hour, logger.Nop())
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "ana", "secret123", nil},
		{"wrong password", "ana", "secret124", ErrInvalidCredentials},
		{"unknown user", "eve", "secret123", ErrInvalidCredentials},
		{"inactive user", "bob", "secret123", ErrInvalidCredentials},
		{"empty username", "", "secret123", ErrInvalidCredentials},
	}

	s := newTestService(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, session.Token)

			actor, err := s.Verify(context.Background(), session.Token)
			require.NoError(t, err)
			assert.Equal(t, models.Actor{UserID: "u1", Role: models.RoleCashier}, actor)
		})
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	s := newTestService(t)
	token, _, err := s.Issue(models.User{ID: "u1", Username: "ana", Role: models.RoleCashier})
	require.NoError(t, err)
	_, err = s.Verify(context.Background(), token)
	require.NoError(t, err)

	other := NewService(store.NewMemory(), "another-secret", time.Hour, logger.Nop())
	_, err = other.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = s.Verify(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "owner",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: issuer},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = newTestService(t).Verify(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken, "unknown role")
}

func TestHashPasswordMinimumLength(t *testing.T) {
	_, err := HashPassword("12345")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
