package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
	"smartdine/internal/testutil"
)

func newUserService(t *testing.T) *Service {
	t.Helper()
	st := store.NewMemory()
	testutil.Seed(t, st)
	return NewService(st, "test-secret", time.Hour, logger.Nop())
}

func TestCreateUser(t *testing.T) {
	tests := []struct {
		name  string
		actor models.Actor
		req   CreateUserRequest
		kind  apperr.Kind
	}{
		{
			name:  "waiter may not create",
			actor: testutil.Waiter,
			req:   CreateUserRequest{Username: "dana", Password: "secret99", Role: models.RoleWaiter},
			kind:  apperr.KindAuthorization,
		},
		{
			name:  "missing username",
			actor: testutil.Admin,
			req:   CreateUserRequest{Username: "  ", Password: "secret99", Role: models.RoleWaiter},
			kind:  apperr.KindValidation,
		},
		{
			name:  "username with spaces",
			actor: testutil.Admin,
			req:   CreateUserRequest{Username: "dana b", Password: "secret99", Role: models.RoleWaiter},
			kind:  apperr.KindValidation,
		},
		{
			name:  "unknown role",
			actor: testutil.Admin,
			req:   CreateUserRequest{Username: "dana", Password: "secret99", Role: "owner"},
			kind:  apperr.KindValidation,
		},
		{
			name:  "short password",
			actor: testutil.Admin,
			req:   CreateUserRequest{Username: "dana", Password: "123", Role: models.RoleWaiter},
			kind:  apperr.KindValidation,
		},
		{
			name:  "duplicate username ignoring case",
			actor: testutil.Admin,
			req:   CreateUserRequest{Username: "U-CHEF", Password: "secret99", Role: models.RoleChef},
			kind:  apperr.KindConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newUserService(t)
			_, err := s.CreateUser(context.Background(), tt.actor, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))

			users, err := s.ListUsers(context.Background(), testutil.Admin)
			require.NoError(t, err)
			assert.Len(t, users, 5, "rejected create must not write")
		})
	}

	t.Run("created user can log in", func(t *testing.T) {
		s := newUserService(t)
		u, err := s.CreateUser(context.Background(), testutil.Admin, CreateUserRequest{
			Username: " dana ",
			FullName: "Dana Ruiz",
			Password: "secret99",
			Role:     models.RoleCashier,
		})
		require.NoError(t, err)
		assert.Equal(t, "dana", u.Username)
		assert.True(t, u.Active)

		session, err := s.Login(context.Background(), "dana", "secret99")
		require.NoError(t, err)
		actor, err := s.Verify(context.Background(), session.Token)
		require.NoError(t, err)
		assert.Equal(t, models.Actor{UserID: u.ID, Role: models.RoleCashier}, actor)
	})
}

func TestConcurrentCreateUserOneWins(t *testing.T) {
	s := newUserService(t)

	var g errgroup.Group
	errs := make([]error, 8)
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = s.CreateUser(context.Background(), testutil.Admin, CreateUserRequest{
				Username: "dana",
				Password: "secret99",
				Role:     models.RoleWaiter,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}
	assert.Equal(t, 1, created)
}

func TestDeactivateRevokesTokens(t *testing.T) {
	ctx := context.Background()
	s := newUserService(t)
	token, _, err := s.Issue(models.User{ID: testutil.Chef.UserID, Role: models.RoleChef})
	require.NoError(t, err)

	_, err = s.Verify(ctx, token)
	require.NoError(t, err)

	_, err = s.DeactivateUser(ctx, testutil.Cashier, testutil.Chef.UserID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)
	_, err = s.DeactivateUser(ctx, testutil.Admin, testutil.Admin.UserID)
	require.ErrorIs(t, err, apperr.ErrState)
	_, err = s.DeactivateUser(ctx, testutil.Admin, "u-missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	u, err := s.DeactivateUser(ctx, testutil.Admin, testutil.Chef.UserID)
	require.NoError(t, err)
	assert.False(t, u.Active)

	_, err = s.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	again, err := s.DeactivateUser(ctx, testutil.Admin, testutil.Chef.UserID)
	require.NoError(t, err)
	assert.Equal(t, u, again)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	s := newUserService(t)
	token, _, err := s.Issue(models.User{ID: testutil.Waiter.UserID, Role: models.RoleWaiter})
	require.NoError(t, err)

	cashier := models.RoleCashier
	name := "Wendy Waiter"
	u, err := s.UpdateUser(ctx, testutil.Admin, testutil.Waiter.UserID, UpdateUserRequest{Role: &cashier, FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, models.RoleCashier, u.Role)
	assert.Equal(t, name, u.FullName)

	_, err = s.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken, "a role change revokes tokens issued for the old role")

	chef := models.RoleChef
	_, err = s.UpdateUser(ctx, testutil.Admin, testutil.Admin.UserID, UpdateUserRequest{Role: &chef})
	assert.ErrorIs(t, err, apperr.ErrState)

	short := "123"
	_, err = s.UpdateUser(ctx, testutil.Admin, testutil.Waiter.UserID, UpdateUserRequest{Password: &short})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	password := "n3wpassword"
	_, err = s.UpdateUser(ctx, testutil.Admin, testutil.Waiter.UserID, UpdateUserRequest{Password: &password})
	require.NoError(t, err)
	_, err = s.Login(ctx, testutil.Waiter.UserID, password)
	require.NoError(t, err)
}
