package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/services/broker"
	"github.com/ternarybob/conductor/internal/services/events"
	"github.com/ternarybob/conductor/internal/services/lifecycle"
	"github.com/ternarybob/conductor/internal/services/scheduler"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

func newWebhookFixture(t *testing.T) (*WebhookHandler, interfaces.StorageManager) {
	t.Helper()
	logger := common.GetLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := common.NewDefaultConfig()
	brk := broker.NewService(store, cfg.Agents, logger)
	bus := events.NewService(logger)
	lc := lifecycle.NewService(store, brk, bus, cfg, logger)
	sched := scheduler.NewService(store, lc, bus, logger)
	return NewWebhookHandler(store, sched, logger), store
}

func seedRepository(t *testing.T, store interfaces.StorageManager, id, locator, secret string) {
	t.Helper()
	repo := &models.Resource{
		ID:            id,
		Type:          models.RepoType,
		Locator:       locator,
		WebhookSecret: secret,
	}
	require.NoError(t, store.ResourceStorage().Create(context.Background(), repo))
}

func signedPushRequest(t *testing.T, body, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/push", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(body))
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	return req
}

const pushBody = `{"ref":"refs/heads/main","repository":{"clone_url":"https://example.com/proj.git"}}`

func TestWebhookAcceptsSignedPush(t *testing.T) {
	h, store := newWebhookFixture(t)
	seedRepository(t, store, "repo1", "https://example.com/proj", "s3cret")

	rec := httptest.NewRecorder()
	h.Push(rec, signedPushRequest(t, pushBody, "s3cret"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fired":0}`, rec.Body.String())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, store := newWebhookFixture(t)
	seedRepository(t, store, "repo1", "https://example.com/proj", "s3cret")

	rec := httptest.NewRecorder()
	h.Push(rec, signedPushRequest(t, pushBody, "wrong"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A repository without a stored secret never verifies.
	seedRepository(t, store, "repo2", "https://example.com/open", "")
	rec = httptest.NewRecorder()
	body := `{"ref":"refs/heads/main","repository":{"clone_url":"https://example.com/open.git"}}`
	h.Push(rec, signedPushRequest(t, body, ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookIgnoresUnknownRepository(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rec := httptest.NewRecorder()
	h.Push(rec, signedPushRequest(t, pushBody, "s3cret"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookRequiresJSON(t *testing.T) {
	h, _ := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/push", bytes.NewBufferString("ref=main"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Push(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestWebhookArmsTriggeredSchedule(t *testing.T) {
	h, store := newWebhookFixture(t)
	seedRepository(t, store, "repo1", "https://example.com/proj", "s3cret")

	sched := &models.Schedule{
		ID:       "s1",
		Repeat:   models.RepeatTriggered,
		ConfigID: "cfg1",
		TagValue: "repo1/main",
	}
	require.NoError(t, store.ScheduleStorage().Create(context.Background(), sched))

	rec := httptest.NewRecorder()
	h.Push(rec, signedPushRequest(t, pushBody, "s3cret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fired":1}`, rec.Body.String())

	got, err := store.ScheduleStorage().Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, got.TriggerFired)
}

func TestNormalizeRepoURL(t *testing.T) {
	assert.Equal(t, "https://example.com/proj", normalizeRepoURL("https://example.com/proj.git"))
	assert.Equal(t, "https://example.com/proj", normalizeRepoURL("https://example.com/proj/"))
	assert.Equal(t, "https://example.com/proj", normalizeRepoURL("https://example.com/proj"))
}
