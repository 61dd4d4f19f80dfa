// Package authpw authenticates agents by email and password.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"leaddesk/api/internal/rbac"
	"leaddesk/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

const minPasswordLength = 8

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates an agent. Unknown emails and wrong passwords return
// the same error.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.Role = string(rbac.Normalize(user.Role))
	return user, nil
}

// CreateAgentRequest contains the fields of a new agent account
type CreateAgentRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// CreateAgent registers an agent with a bcrypt-hashed password.
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (store.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.DisplayName == "" {
		return store.User{}, errors.New("email and display name are required")
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := store.User{
		ID:           uuid.NewString(),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(rbac.Normalize(req.Role)),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
