package session

import "time"

// RefreshRecord is one active session: the one-way digest of a refresh token
// plus its lifetime. The raw token is never stored.
type RefreshRecord struct {
	ID          string
	PrincipalID int64
	TokenHash   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
