package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/tracker/internal/auth"
	"github.com/thumbgen/tracker/internal/model"
)

// ErrInvalidCredentials is returned by SignIn for an unknown email or a wrong password
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserService handles registration and sign-in
type UserService struct {
	users     UserStore
	jwtSecret string
	tokenTTL  time.Duration
}

func NewUserService(users UserStore, jwtSecret string, tokenTTL time.Duration) *UserService {
	return &UserService{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

// SignUp creates the account and signs it in
func (s *UserService) SignUp(ctx context.Context, req *model.SignUpRequest) (*model.AuthResponse, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	token, err := auth.IssueToken(s.jwtSecret, user.ID, user.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{Token: token, Message: "User registered successfully"}, nil
}

// SignIn checks the password and issues a fresh token
func (s *UserService) SignIn(ctx context.Context, req *model.SignInRequest) (*model.AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	token, err := auth.IssueToken(s.jwtSecret, user.ID, user.Email, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &model.AuthResponse{Token: token, Message: "Signed in successfully"}, nil
}
