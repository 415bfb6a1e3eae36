package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// AuthService manages user accounts, passwords and API tokens.
type AuthService interface {
	// AddUser creates an account and returns a password reset token secret
	// the operator hands to the new user.
	AddUser(ctx context.Context, name string, role models.UserRole) (*models.User, string, error)

	RemoveUser(ctx context.Context, name string) error
	GetUser(ctx context.Context, name string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	SetRole(ctx context.Context, name string, role models.UserRole) error

	// SetPassword stores a salted hash; the plain password never persists.
	SetPassword(ctx context.Context, name, password string) error

	// CheckPassword verifies credentials and returns the account. Inactive
	// accounts fail with AccessDeniedError.
	CheckPassword(ctx context.Context, name, password string) (*models.User, error)

	// ResetPassword consumes a password reset token.
	ResetPassword(ctx context.Context, tokenID, secret, password string) error

	// CreateResourceToken mints the credential an agent or repository uses.
	// The plain secret is returned exactly once.
	CreateResourceToken(ctx context.Context, resourceID string) (id, secret string, err error)

	// VerifyToken authenticates a token id and secret pair.
	VerifyToken(ctx context.Context, tokenID, secret string) (*models.Token, error)

	RevokeToken(ctx context.Context, tokenID string) error
}
