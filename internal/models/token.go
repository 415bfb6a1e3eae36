package models

import "time"

// TokenRole determines what an API token may be used for.
type TokenRole string

const (
	// TokenRoleResource authenticates an execution agent or repository.
	TokenRoleResource TokenRole = "resource"

	// TokenRolePasswordReset authorises a one-time password reset.
	TokenRolePasswordReset TokenRole = "password_reset"
)

// PasswordResetExpiry bounds the lifetime of password reset tokens.
const PasswordResetExpiry = 24 * time.Hour

// Token is an API credential. The secret is stored hashed; the plain secret
// is only returned once, at creation.
type Token struct {
	ID         string            `json:"id"`
	SecretHash string            `json:"secret_hash"`
	Role       TokenRole         `json:"role"`
	Params     map[string]string `json:"params,omitempty"` // e.g. resource_id, user
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"` // Zero means no expiry
}

// Expired reports whether the token has passed its expiry.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// ResourceID returns the resource this token authenticates, if any.
func (t *Token) ResourceID() string {
	return t.Params["resource_id"]
}
