package token

import (
	"errors"
	"log/slog"
)

// Secrets resolves the two signing secrets. Access and refresh tokens are
// signed with distinct keys so that one class can never validate as the other.
type Secrets struct {
	access  []byte
	refresh []byte
}

// NewSecrets validates and wraps the configured signing secrets.
// A missing refresh secret is fatal in production. In other environments it
// degrades to reusing the access secret with a loud warning, so a weak local
// setup still runs but can never silently reach users.
func NewSecrets(accessSecret, refreshSecret string, production bool, logger *slog.Logger) (*Secrets, error) {
	if accessSecret == "" {
		return nil, errors.New("token: access secret is required")
	}
	if refreshSecret == "" {
		if production {
			return nil, errors.New("token: refresh secret is required in production")
		}
		if logger != nil {
			logger.Warn("refresh token secret not set, reusing access secret; set REFRESH_TOKEN_SECRET before deploying")
		}
		refreshSecret = accessSecret
	}
	return &Secrets{access: []byte(accessSecret), refresh: []byte(refreshSecret)}, nil
}

// Access returns the access-token signing secret.
func (s *Secrets) Access() []byte { return s.access }

// Refresh returns the refresh-token signing secret.
func (s *Secrets) Refresh() []byte { return s.refresh }
