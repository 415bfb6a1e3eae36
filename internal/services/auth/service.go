package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// Service implements AuthService. Password and token secrets are stored as
// bcrypt hashes; the plain secret leaves the process exactly once, at
// creation.
type Service struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
}

// NewService creates a new auth service
func NewService(store interfaces.StorageManager, logger arbor.ILogger) interfaces.AuthService {
	return &Service{store: store, logger: logger}
}

func (s *Service) AddUser(ctx context.Context, name string, role models.UserRole) (*models.User, string, error) {
	if name == "" {
		return nil, "", common.NewInvalidRequest("user name is required")
	}
	if !role.IsValid() {
		return nil, "", common.NewInvalidRequest("unknown role %q", role)
	}

	user := &models.User{Name: name, Role: role, CreatedAt: time.Now()}
	if err := s.store.UserStorage().Create(ctx, user); err != nil {
		return nil, "", err
	}

	// A fresh account has no password; hand the operator a reset token for
	// the new user.
	secret, err := s.createResetToken(ctx, name)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("user", name).Str("role", string(role)).Msg("User account created")
	return user, secret, nil
}

func (s *Service) RemoveUser(ctx context.Context, name string) error {
	if err := s.store.UserStorage().Delete(ctx, name); err != nil {
		return err
	}
	return s.store.PasswordStorage().Delete(ctx, name)
}

func (s *Service) GetUser(ctx context.Context, name string) (*models.User, error) {
	return s.store.UserStorage().Get(ctx, name)
}

func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.store.UserStorage().List(ctx)
}

func (s *Service) SetRole(ctx context.Context, name string, role models.UserRole) error {
	if !role.IsValid() {
		return common.NewInvalidRequest("unknown role %q", role)
	}
	user, err := s.store.UserStorage().Get(ctx, name)
	if err != nil {
		return err
	}
	user.Role = role
	return s.store.UserStorage().Update(ctx, user)
}

func (s *Service) SetPassword(ctx context.Context, name, password string) error {
	if _, err := s.store.UserStorage().Get(ctx, name); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.store.PasswordStorage().Set(ctx, name, string(hash))
}

func (s *Service) CheckPassword(ctx context.Context, name, password string) (*models.User, error) {
	user, err := s.store.UserStorage().Get(ctx, name)
	if err != nil {
		return nil, &common.AccessDeniedError{Message: "unknown user or wrong password"}
	}
	hash, err := s.store.PasswordStorage().Get(ctx, name)
	if err != nil {
		return nil, &common.AccessDeniedError{Message: "unknown user or wrong password"}
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, &common.AccessDeniedError{Message: "unknown user or wrong password"}
	}
	if user.Role == models.RoleInactive {
		return nil, &common.AccessDeniedError{Message: "account is inactive"}
	}
	return user, nil
}

func (s *Service) ResetPassword(ctx context.Context, tokenID, secret, password string) error {
	token, err := s.VerifyToken(ctx, tokenID, secret)
	if err != nil {
		return err
	}
	if token.Role != models.TokenRolePasswordReset {
		return &common.AccessDeniedError{Message: "not a password reset token"}
	}
	name := token.Params["user"]
	if err := s.SetPassword(ctx, name, password); err != nil {
		return err
	}
	// Reset tokens are single use.
	return s.store.TokenStorage().Delete(ctx, tokenID)
}

func (s *Service) CreateResourceToken(ctx context.Context, resourceID string) (string, string, error) {
	res, err := s.store.ResourceStorage().Get(ctx, resourceID)
	if err != nil {
		return "", "", err
	}

	id, secret, err := s.mintToken(ctx, models.TokenRoleResource,
		map[string]string{"resource_id": resourceID}, time.Time{})
	if err != nil {
		return "", "", err
	}

	res.TokenID = id
	res.ChangedAt = time.Now()
	if err := s.store.ResourceStorage().Update(ctx, res); err != nil {
		return "", "", err
	}
	return id, secret, nil
}

func (s *Service) VerifyToken(ctx context.Context, tokenID, secret string) (*models.Token, error) {
	token, err := s.store.TokenStorage().Get(ctx, tokenID)
	if err != nil {
		return nil, &common.AccessDeniedError{Message: "unknown token"}
	}
	if token.Expired(time.Now()) {
		return nil, &common.AccessDeniedError{Message: "token expired"}
	}
	if bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)) != nil {
		return nil, &common.AccessDeniedError{Message: "wrong token secret"}
	}
	return token, nil
}

func (s *Service) RevokeToken(ctx context.Context, tokenID string) error {
	return s.store.TokenStorage().Delete(ctx, tokenID)
}

func (s *Service) createResetToken(ctx context.Context, user string) (string, error) {
	id, secret, err := s.mintToken(ctx, models.TokenRolePasswordReset,
		map[string]string{"user": user}, time.Now().Add(models.PasswordResetExpiry))
	if err != nil {
		return "", err
	}
	return id + ":" + secret, nil
}

func (s *Service) mintToken(ctx context.Context, role models.TokenRole, params map[string]string, expiry time.Time) (string, string, error) {
	id := common.NewTokenID()
	secret := common.NewTokenSecret()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token secret: %w", err)
	}
	token := &models.Token{
		ID:         id,
		SecretHash: string(hash),
		Role:       role,
		Params:     params,
		CreatedAt:  time.Now(),
		ExpiresAt:  expiry,
	}
	if err := s.store.TokenStorage().Create(ctx, token); err != nil {
		return "", "", err
	}
	return id, secret, nil
}
