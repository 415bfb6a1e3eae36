package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

func newService(t *testing.T) (interfaces.AuthService, interfaces.StorageManager) {
	t.Helper()
	logger := common.GetLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, logger), store
}

func TestAddUserHandsOutResetToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	user, resetSecret, err := svc.AddUser(ctx, "alice", models.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
	assert.Equal(t, models.RoleOperator, user.Role)
	require.NotEmpty(t, resetSecret)

	// The reset secret is "<tokenId>:<secret>" and is single use.
	tokenID, secret, ok := strings.Cut(resetSecret, ":")
	require.True(t, ok)
	require.NoError(t, svc.ResetPassword(ctx, tokenID, secret, "hunter2"))

	got, err := svc.CheckPassword(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)

	err = svc.ResetPassword(ctx, tokenID, secret, "again")
	var denied *common.AccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestAddUserRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.AddUser(ctx, "", models.RoleUser)
	assert.True(t, common.IsInvalidRequest(err))

	_, _, err = svc.AddUser(ctx, "bob", models.UserRole("king"))
	assert.True(t, common.IsInvalidRequest(err))
}

func TestCheckPasswordFailsClosed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.AddUser(ctx, "carol", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "carol", "correct"))

	var denied *common.AccessDeniedError

	_, err = svc.CheckPassword(ctx, "carol", "wrong")
	assert.ErrorAs(t, err, &denied)

	_, err = svc.CheckPassword(ctx, "nobody", "correct")
	assert.ErrorAs(t, err, &denied)

	// An account without a password never authenticates, not even with "".
	_, _, err = svc.AddUser(ctx, "dave", models.RoleUser)
	require.NoError(t, err)
	_, err = svc.CheckPassword(ctx, "dave", "")
	assert.ErrorAs(t, err, &denied)
}

func TestInactiveAccountIsLockedOut(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.AddUser(ctx, "erin", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "erin", "pw"))
	require.NoError(t, svc.SetRole(ctx, "erin", models.RoleInactive))

	_, err = svc.CheckPassword(ctx, "erin", "pw")
	var denied *common.AccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestResourceTokenRoundTrip(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	runner := &models.Resource{
		ID:       "runner1",
		Type:     models.TaskRunnerType,
		LastSync: time.Now(),
	}
	require.NoError(t, store.ResourceStorage().Create(ctx, runner))

	id, secret, err := svc.CreateResourceToken(ctx, "runner1")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotEmpty(t, secret)

	token, err := svc.VerifyToken(ctx, id, secret)
	require.NoError(t, err)
	assert.Equal(t, models.TokenRoleResource, token.Role)
	assert.Equal(t, "runner1", token.Params["resource_id"])

	// The token id is written back onto the resource for reverse lookup.
	got, err := store.ResourceStorage().GetByToken(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "runner1", got.ID)

	var denied *common.AccessDeniedError
	_, err = svc.VerifyToken(ctx, id, "not-the-secret")
	assert.ErrorAs(t, err, &denied)

	require.NoError(t, svc.RevokeToken(ctx, id))
	_, err = svc.VerifyToken(ctx, id, secret)
	assert.ErrorAs(t, err, &denied)
}

func TestRemoveUserDropsPassword(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.AddUser(ctx, "frank", models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "frank", "pw"))
	require.NoError(t, svc.RemoveUser(ctx, "frank"))

	_, err = svc.GetUser(ctx, "frank")
	assert.Error(t, err)
	_, err = svc.CheckPassword(ctx, "frank", "pw")
	var denied *common.AccessDeniedError
	assert.ErrorAs(t, err, &denied)
}
