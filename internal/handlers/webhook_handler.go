package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// maxWebhookBody bounds hosting-platform payloads.
const maxWebhookBody = 1 << 20

// WebhookHandler receives push notifications from repository hosting
// platforms and arms the matching triggered schedules. The request signature
// is verified against the secret stored on the matching repository resource.
type WebhookHandler struct {
	store     interfaces.StorageManager
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(store interfaces.StorageManager, scheduler interfaces.SchedulerService, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{store: store, scheduler: scheduler, logger: logger}
}

// webhookPayload is the common shape of push events across platforms.
type webhookPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		URL      string `json:"url"`
		CloneURL string `json:"clone_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// Push handles POST /webhook/push.
func (h *WebhookHandler) Push(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, "JSON payloads only", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	repo := h.matchRepository(r, &payload)
	if repo == nil {
		// No matching repository resource; not an error worth retrying.
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Webhook for unknown repository")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !verifySignature(r.Header.Get("X-Hub-Signature-256"), body, repo.WebhookSecret) {
		h.logger.Warn().Str("repo", repo.ID).Msg("Webhook signature mismatch")
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if branch == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Branches are compared as tag values "<repoId>/<branch>".
	fired, err := h.scheduler.FireTag(r.Context(), repo.ID+"/"+branch)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.logger.Info().
		Str("repo", repo.ID).
		Str("branch", branch).
		Int("fired", fired).
		Msg("Webhook processed")
	_ = WriteJSON(w, http.StatusOK, map[string]int{"fired": fired})
}

// matchRepository finds the sf.repo resource whose locator matches any
// repository URL in the payload, case-insensitively.
func (h *WebhookHandler) matchRepository(r *http.Request, payload *webhookPayload) *models.Resource {
	resources, err := h.store.ResourceStorage().List(r.Context())
	if err != nil {
		return nil
	}
	urls := []string{payload.Repository.URL, payload.Repository.CloneURL, payload.Repository.HTMLURL}
	for _, res := range resources {
		if res.Type != models.RepoType || res.Locator == "" {
			continue
		}
		for _, u := range urls {
			if u != "" && strings.EqualFold(normalizeRepoURL(u), normalizeRepoURL(res.Locator)) {
				return res
			}
		}
	}
	return nil
}

func normalizeRepoURL(u string) string {
	u = strings.TrimSuffix(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// verifySignature checks a "sha256=<hex>" HMAC header against the payload.
func verifySignature(header string, body []byte, secret string) bool {
	if secret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
