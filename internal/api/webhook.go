package api

import (
	"context"
	"net/http"
	"time"

	gh "github.com/google/go-github/v62/github"

	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
)

// handleWebhook verifies and dispatches GitHub webhook deliveries. Deliveries
// that fail signature or payload validation are dead-lettered so nothing is
// lost silently; the sync work itself runs off the request path.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	payload, err := gh.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		h.logger.Warn("Webhook signature validation failed", "delivery_id", deliveryID, "error", err)
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		h.deadLetter(r.Context(), deliveryID, "unparseable webhook payload: "+err.Error(), payload)
		respondWithError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	switch ev := event.(type) {
	case *gh.PullRequestEvent:
		h.dispatchPullSync(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetPullRequest().GetNumber())
	case *gh.PullRequestReviewEvent:
		h.dispatchPullSync(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetPullRequest().GetNumber())
	case *gh.PullRequestReviewCommentEvent:
		h.dispatchPullSync(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetPullRequest().GetNumber())
	case *gh.IssuesEvent:
		h.dispatchIssueSync(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetIssue().GetNumber())
	case *gh.IssueCommentEvent:
		h.dispatchIssueSync(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetIssue().GetNumber())
	case *gh.CheckRunEvent:
		h.dispatchHeadSyncs(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetCheckRun().PullRequests)
	case *gh.WorkflowRunEvent:
		h.dispatchHeadSyncs(w, r, deliveryID, ev.GetRepo().GetID(), ev.GetWorkflowRun().PullRequests)
	case *gh.RepositoryEvent:
		h.applyRepositoryEvent(w, r, deliveryID, ev)
	case *gh.MemberEvent:
		h.refreshMembership(w, r, deliveryID, ev.GetRepo().GetID())
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handler) dispatchPullSync(w http.ResponseWriter, r *http.Request, deliveryID string, githubRepoID int64, number int) {
	repo, ok := h.lookupWebhookRepo(w, r, deliveryID, githubRepoID)
	if !ok {
		return
	}
	if number <= 0 {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if _, err := h.engine.SyncPullRequest(ctx, repo, number, true); err != nil {
			h.logger.Warn("Webhook pull sync failed",
				"delivery_id", deliveryID, "owner", repo.Owner, "repo", repo.Name, "number", number, "error", err)
		}
	}()
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

func (h *Handler) dispatchIssueSync(w http.ResponseWriter, r *http.Request, deliveryID string, githubRepoID int64, number int) {
	repo, ok := h.lookupWebhookRepo(w, r, deliveryID, githubRepoID)
	if !ok {
		return
	}
	if number <= 0 {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if _, err := h.engine.SyncIssue(ctx, repo, number, true); err != nil {
			h.logger.Warn("Webhook issue sync failed",
				"delivery_id", deliveryID, "owner", repo.Owner, "repo", repo.Name, "number", number, "error", err)
		}
	}()
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

// dispatchHeadSyncs handles check_run and workflow_run deliveries, which carry
// the pull requests whose heads produced them.
func (h *Handler) dispatchHeadSyncs(w http.ResponseWriter, r *http.Request, deliveryID string, githubRepoID int64, pulls []*gh.PullRequest) {
	repo, ok := h.lookupWebhookRepo(w, r, deliveryID, githubRepoID)
	if !ok {
		return
	}
	if len(pulls) == 0 {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	numbers := make([]int, 0, len(pulls))
	for _, pr := range pulls {
		if n := pr.GetNumber(); n > 0 {
			numbers = append(numbers, n)
		}
	}
	go func() {
		ctx := context.WithoutCancel(r.Context())
		for _, n := range numbers {
			if _, err := h.engine.SyncPullRequest(ctx, repo, n, true); err != nil {
				h.logger.Warn("Webhook pull sync failed",
					"delivery_id", deliveryID, "owner", repo.Owner, "repo", repo.Name, "number", n, "error", err)
			}
		}
	}()
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

// applyRepositoryEvent refreshes metadata and soft states on rename, archive,
// unarchive and similar repository-level changes.
func (h *Handler) applyRepositoryEvent(w http.ResponseWriter, r *http.Request, deliveryID string, ev *gh.RepositoryEvent) {
	repo, ok := h.lookupWebhookRepo(w, r, deliveryID, ev.GetRepo().GetID())
	if !ok {
		return
	}
	updated := ghclient.TranslateRepository(ev.GetRepo(), repo.InstallationID, repo.ConnectingUserID)
	if _, err := h.store.UpsertRepository(r.Context(), updated); err != nil {
		h.logger.Error("Failed to apply repository event",
			"delivery_id", deliveryID, "owner", repo.Owner, "repo", repo.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// refreshMembership re-syncs collaborator permissions when a member is added,
// removed or has their role edited.
func (h *Handler) refreshMembership(w http.ResponseWriter, r *http.Request, deliveryID string, githubRepoID int64) {
	repo, ok := h.lookupWebhookRepo(w, r, deliveryID, githubRepoID)
	if !ok {
		return
	}
	go h.engine.RefreshPermissionsIfStale(context.WithoutCancel(r.Context()), repo, time.Time{})
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

// lookupWebhookRepo resolves the delivery's repository id to a connected
// repository. Deliveries for unknown repositories are acknowledged and
// dropped; GitHub retries 4xx deliveries and the repository will never appear.
func (h *Handler) lookupWebhookRepo(w http.ResponseWriter, r *http.Request, deliveryID string, githubRepoID int64) (model.Repository, bool) {
	repo, found, err := h.store.GetRepositoryByGithubID(r.Context(), githubRepoID)
	if err != nil {
		h.logger.Error("Failed to resolve webhook repository",
			"delivery_id", deliveryID, "github_repo_id", githubRepoID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.Repository{}, false
	}
	if !found {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "not_connected"})
		return model.Repository{}, false
	}
	return repo, true
}

func (h *Handler) deadLetter(ctx context.Context, deliveryID, reason string, payload []byte) {
	const maxPayload = 4096
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}
	if err := h.store.Record(ctx, "webhook", deliveryID, reason, string(payload)); err != nil {
		h.logger.Error("Failed to record dead letter", "delivery_id", deliveryID, "error", err)
	}
}
