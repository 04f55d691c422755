package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtrntr/marketplace/internal/models"
)

// MemoryUsers is a UserStore kept in process memory
type MemoryUsers struct {
	mu     sync.Mutex
	byName map[string]*models.User
	nextID int
}

// NewMemoryUsers creates an empty user store
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byName: make(map[string]*models.User), nextID: 1}
}

// CreateUser stores a new user; usernames are unique
func (u *MemoryUsers) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.byName[username]; exists {
		return nil, fmt.Errorf("username %q already taken", username)
	}
	user := &models.User{ID: u.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}
	u.nextID++
	u.byName[username] = user
	copied := *user
	return &copied, nil
}

// GetUserByUsername retrieves a user by username
func (u *MemoryUsers) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	user, ok := u.byName[username]
	if !ok {
		return nil, fmt.Errorf("user %q not found", username)
	}
	copied := *user
	return &copied, nil
}
