// Package auth verifies staff credentials and issues the tokens that carry
// a user's role to every command.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

const (
	issuer            = "smartdine"
	MinPasswordLength = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims is the JWT payload. The subject is the user id.
type Claims struct {
	Role     models.Role `json:"role"`
	Username string      `json:"username"`
	jwt.RegisteredClaims
}

// Session is the result of a successful login
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

func NewService(st store.Store, secret string, ttl time.Duration, log *logger.Logger) *Service {
	return &Service{
		store:  st,
		secret: []byte(secret),
		ttl:    ttl,
		logger: log,
		now:    time.Now,
	}
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", apperr.Validation("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks the password of an active user and issues a token
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	var user models.User
	err := command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		user, err = r.UserByUsername(ctx, username)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("login_failed", "Password mismatch", "", map[string]interface{}{"username": username})
		return Session{}, ErrInvalidCredentials
	}
	if !user.Active {
		s.logger.Warn("login_failed", "Inactive user", "", map[string]interface{}{"username": username})
		return Session{}, ErrInvalidCredentials
	}

	token, expires, err := s.Issue(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("login_succeeded", fmt.Sprintf("User %s logged in", username), "", map[string]interface{}{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Issue signs a token for user
func (s *Service) Issue(user models.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Role:     user.Role,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns the actor it was issued to. The account
// must still be active and hold the role the token was issued for, so
// deactivating a user or changing their role revokes outstanding tokens.
func (s *Service) Verify(ctx context.Context, tokenString string) (models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return models.Actor{}, ErrInvalidToken
	}

	role, err := models.ParseRole(string(claims.Role))
	if err != nil || claims.Subject == "" {
		return models.Actor{}, ErrInvalidToken
	}

	var user models.User
	err = command.View(ctx, s.store, func(r store.Reader) error {
		var err error
		user, err = r.User(ctx, claims.Subject)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.Actor{}, ErrInvalidToken
	}
	if err != nil {
		return models.Actor{}, err
	}
	if !user.Active || user.Role != role {
		s.logger.Warn("token_revoked", "Token of inactive or changed account", "", map[string]interface{}{
			"user_id": user.ID,
			"active":  user.Active,
		})
		return models.Actor{}, ErrInvalidToken
	}
	return models.Actor{UserID: claims.Subject, Role: role}, nil
}
