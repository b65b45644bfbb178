// Package users declares the persistent user store and its PostgreSQL
// implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository is the user store consulted by the auth service. Lookups of a
// missing user return common.ErrorNotFound; Create returns
// common.ErrAlreadyExists when the email is taken.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByEmailForUpdate locks the user row until the surrounding
	// transaction ends. Only meaningful on a transactional handle.
	GetByEmailForUpdate(ctx context.Context, email string) (*models.User, error)

	SetRefreshToken(ctx context.Context, userID string, token *string) error

	// SetConfirmed marks a pending account confirmed and reports whether this
	// call made the change. An already confirmed or unknown email yields false.
	SetConfirmed(ctx context.Context, email string) (bool, error)
	SetPasswordHash(ctx context.Context, userID string, hash string) error
	SetAvatarURL(ctx context.Context, email string, url string) (*models.User, error)
}
