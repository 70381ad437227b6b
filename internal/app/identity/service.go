package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tasksync/backend/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidUsername    = errors.New("username is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Profile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuthResponse struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{Repo: repo, AuthToken: tokenManager}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if normalizeUsername(username) == "" {
		return ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func profileOf(u User) Profile {
	return Profile{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (s *Service) Register(ctx context.Context, username, password, email string) (AuthResponse, error) {
	if err := validateCredentials(username, password); err != nil {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.CreateUser(ctx, User{
		Username:     normalizeUsername(username),
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
	})
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(u)
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	uname := normalizeUsername(username)
	if uname == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByUsername(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(u)
}

func (s *Service) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	u, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

func (s *Service) issueSession(u User) (AuthResponse, error) {
	token, err := s.AuthToken.Sign(u.ID, u.Username)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{Token: token, User: profileOf(u)}, nil
}
