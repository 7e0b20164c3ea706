package auth

import (
	"time"

	"github.com/pulsedash/pulsedash/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal projects the account onto the identity the auth core works with.
func (u *User) Principal() *shared.Principal {
	return &shared.Principal{ID: u.ID, Role: u.Role, Active: u.IsActive}
}

// TokenPair is the credential set returned by login, register and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
