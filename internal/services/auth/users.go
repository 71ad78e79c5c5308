package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"smartdine/internal/apperr"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

const (
	userEntity        = "user"
	MaxUsernameLength = 50
)

// CreateUserRequest is the admin's input for a new staff account
type CreateUserRequest struct {
	Username string      `json:"username"`
	FullName string      `json:"full_name"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

// UpdateUserRequest changes the fields that are set
type UpdateUserRequest struct {
	FullName *string      `json:"full_name"`
	Role     *models.Role `json:"role"`
	Password *string      `json:"password"`
}

// CreateUser adds an active staff account. Usernames are unique, compared
// without regard to case.
func (s *Service) CreateUser(ctx context.Context, actor models.Actor, req CreateUserRequest) (models.User, error) {
	if err := access.Check(actor, access.OpManageUsers, ""); err != nil {
		return models.User{}, err
	}

	username := strings.TrimSpace(req.Username)
	switch {
	case username == "":
		return models.User{}, apperr.Validation("username", "username is required")
	case len(username) > MaxUsernameLength:
		return models.User{}, apperr.Validation("username", fmt.Sprintf("username must not exceed %d characters", MaxUsernameLength))
	case strings.ContainsAny(username, " \t\n"):
		return models.User{}, apperr.Validation("username", "username must not contain whitespace")
	}
	role, err := models.ParseRole(string(req.Role))
	if err != nil {
		return models.User{}, apperr.Validation("role", err.Error())
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}

	keys := []store.Key{store.UserKey("username:" + strings.ToLower(username))}
	_, err = command.Run(ctx, s.store, s.logger, string(access.OpManageUsers), keys, func(tx store.Tx) error {
		taken, err := usernameTaken(ctx, tx, username)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict(userEntity, username, "", "username already exists")
		}
		return tx.PutUser(ctx, user)
	})
	if err != nil {
		return models.User{}, err
	}

	s.logger.Info("user_created", fmt.Sprintf("User %s created", username), "", map[string]interface{}{
		"user_id":    user.ID,
		"role":       string(user.Role),
		"created_by": actor.UserID,
	})
	return user, nil
}

// UpdateUser changes an account's name, role or password. An admin cannot
// change their own role.
func (s *Service) UpdateUser(ctx context.Context, actor models.Actor, userID string, req UpdateUserRequest) (models.User, error) {
	if err := access.Check(actor, access.OpManageUsers, ""); err != nil {
		return models.User{}, err
	}

	var role models.Role
	if req.Role != nil {
		var err error
		if role, err = models.ParseRole(string(*req.Role)); err != nil {
			return models.User{}, apperr.Validation("role", err.Error())
		}
	}
	var hash string
	if req.Password != nil {
		var err error
		if hash, err = HashPassword(*req.Password); err != nil {
			return models.User{}, err
		}
	}

	return s.mutateUser(ctx, userID, func(u *models.User) error {
		if req.Role != nil && role != u.Role {
			if u.ID == actor.UserID {
				return apperr.State(userEntity, u.ID, string(u.Role), "cannot change your own role")
			}
			u.Role = role
		}
		if req.FullName != nil {
			u.FullName = strings.TrimSpace(*req.FullName)
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		return nil
	})
}

// DeactivateUser disables an account. Its tokens stop verifying at once.
// Deactivating an inactive account is a no-op.
func (s *Service) DeactivateUser(ctx context.Context, actor models.Actor, userID string) (models.User, error) {
	if err := access.Check(actor, access.OpManageUsers, ""); err != nil {
		return models.User{}, err
	}
	if userID == actor.UserID {
		return models.User{}, apperr.State(userEntity, userID, "active", "cannot deactivate your own account")
	}

	user, err := s.mutateUser(ctx, userID, func(u *models.User) error {
		u.Active = false
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	s.logger.Info("user_deactivated", fmt.Sprintf("User %s deactivated", user.Username), "", map[string]interface{}{
		"user_id":        user.ID,
		"deactivated_by": actor.UserID,
	})
	return user, nil
}

// ListUsers returns every account ordered by username
func (s *Service) ListUsers(ctx context.Context, actor models.Actor) ([]models.User, error) {
	if err := access.Check(actor, access.OpManageUsers, ""); err != nil {
		return nil, err
	}

	var users []models.User
	err := command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		users, err = r.Users(ctx)
		return err
	})
	return users, err
}

func (s *Service) mutateUser(ctx context.Context, userID string, fn func(u *models.User) error) (models.User, error) {
	var result models.User
	_, err := command.Run(ctx, s.store, s.logger, string(access.OpManageUsers), []store.Key{store.UserKey(userID)}, func(tx store.Tx) error {
		u, err := tx.User(ctx, userID)
		if err != nil {
			return command.Lookup(err, userEntity, userID)
		}

		before := u
		if err := fn(&u); err != nil {
			return err
		}
		result = u
		if u == before {
			return nil
		}
		return tx.PutUser(ctx, u)
	})
	if err != nil {
		return models.User{}, err
	}
	return result, nil
}

func usernameTaken(ctx context.Context, r store.Reader, username string) (bool, error) {
	users, err := r.Users(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}
