package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/marketplace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrReservedUsername is returned when registering an identity the registry uses itself
var ErrReservedUsername = errors.New("username is reserved")

// UserStore persists registered users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// AccountOpener gives every registered user a ledger account
type AccountOpener interface {
	OpenAccount(ctx context.Context, id string) error
}

// AuthService handles user authentication
type AuthService struct {
	Users    UserStore
	Accounts AccountOpener
	Secret   []byte
	TTL      time.Duration
	// Reserved identities cannot be registered through Register.
	Reserved map[string]bool
}

// NewAuthService creates a new auth service
func NewAuthService(users UserStore, accounts AccountOpener, secret string, ttl time.Duration, reserved ...string) *AuthService {
	s := &AuthService{
		Users:    users,
		Accounts: accounts,
		Secret:   []byte(secret),
		TTL:      ttl,
		Reserved: make(map[string]bool),
	}
	for _, name := range reserved {
		s.Reserved[name] = true
	}
	return s
}

// Register creates a new user with hashed password and opens their account
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if s.Reserved[username] {
		return nil, ErrReservedUsername
	}
	return s.register(ctx, username, password)
}

// Bootstrap registers a reserved identity such as the administrator. It is a
// no-op when the user already exists.
func (s *AuthService) Bootstrap(ctx context.Context, username, password string) error {
	if _, err := s.Users.GetUserByUsername(ctx, username); err == nil {
		return s.Accounts.OpenAccount(ctx, username)
	}
	_, err := s.register(ctx, username, password)
	return err
}

func (s *AuthService) register(ctx context.Context, username, password string) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.Users.CreateUser(ctx, username, string(hashedPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := s.Accounts.OpenAccount(ctx, username); err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(s.TTL).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts the caller identity from a JWT
func (s *AuthService) GetUserFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("token has no username")
	}
	return username, nil
}
