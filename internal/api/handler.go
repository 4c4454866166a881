package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github-org-mirror/internal/errors"
	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
	"github-org-mirror/internal/permission"
	"github-org-mirror/internal/syncer"
)

// Store is the persistence surface the API reads and dead-letters through.
// The pgx store satisfies it; handler tests substitute a mock.
type Store interface {
	GetRepositoryByOwnerName(ctx context.Context, owner, name string) (model.Repository, bool, error)
	GetRepositoryByGithubID(ctx context.Context, githubID int64) (model.Repository, bool, error)
	UpsertRepository(ctx context.Context, r *model.Repository) (model.Repository, error)
	GetPermissionRow(ctx context.Context, userID, repositoryID int64) (*model.PermissionRow, error)
	GetPullRequest(ctx context.Context, repositoryID int64, number int) (model.PullRequest, bool, error)
	GetIssue(ctx context.Context, repositoryID int64, number int) (model.Issue, bool, error)
	GetCounters(ctx context.Context, repositoryID int64) (model.RepoCounters, error)
	ListJobs(ctx context.Context, limit int) ([]model.SyncJob, error)
	ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetter, error)
	Record(ctx context.Context, source, deliveryID, reason, payload string) error
}

// Engine is the slice of the sync engine the API triggers.
type Engine interface {
	Connect(ctx context.Context, owner, name string, installationID int64, connectingUserID *int64) (model.SyncJob, error)
	Resync(ctx context.Context, repo model.Repository) (model.SyncJob, error)
	Backfill(ctx context.Context, repo model.Repository) (model.SyncJob, error)
	SyncPullRequest(ctx context.Context, repo model.Repository, number int, force bool) (syncer.SyncResult, error)
	SyncIssue(ctx context.Context, repo model.Repository, number int, force bool) (syncer.SyncResult, error)
	RefreshPermissionsIfStale(ctx context.Context, repo model.Repository, syncedAt time.Time)
	PullDiff(ctx context.Context, repo model.Repository, number int) (string, bool, error)
	JobLogs(ctx context.Context, repo model.Repository, jobID int64) (string, bool, error)
	AssignableUsers(ctx context.Context, repo model.Repository, query string) ([]ghclient.AssignableUser, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	store         Store
	engine        Engine
	webhookSecret []byte
	logger        *slog.Logger
}

// NewRouter creates and configures the chi router for the trigger surface.
func NewRouter(st Store, engine Engine, webhookSecret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:         st,
		engine:        engine,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/v1/webhooks/github", h.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/repos/connect", h.connectRepository)

		r.Route("/repos/{owner}/{name}", func(r chi.Router) {
			r.With(h.requirePermission(permission.LevelPull, false)).
				Get("/pulls/{number}", h.getPullRequest)
			r.With(h.requirePermission(permission.LevelPull, false)).
				Get("/issues/{number}", h.getIssue)
			r.With(h.requirePermission(permission.LevelPull, false)).
				Get("/counters", h.getCounters)
			r.With(h.requirePermission(permission.LevelPull, false)).
				Get("/pulls/{number}/diff", h.getPullDiff)
			r.With(h.requirePermission(permission.LevelPull, false)).
				Get("/jobs/{jobID}/logs", h.getJobLogs)
			r.With(h.requirePermission(permission.LevelTriage, true)).
				Get("/assignable-users", h.searchAssignableUsers)

			r.With(h.requirePermission(permission.LevelPull, false)).
				Post("/pulls/{number}/sync", h.syncPullRequest)
			r.With(h.requirePermission(permission.LevelPull, false)).
				Post("/issues/{number}/sync", h.syncIssue)

			r.With(h.requirePermission(permission.LevelPush, true)).
				Post("/backfill", h.backfillRepository)

			r.With(h.requirePermission(permission.LevelAdmin, true)).
				Post("/resync", h.resyncRepository)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", h.listJobs)
			r.Get("/dead-letters", h.listDeadLetters)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectRequest struct {
	Owner            string `json:"owner"`
	Name             string `json:"name"`
	InstallationID   int64  `json:"installation_id"`
	ConnectingUserID *int64 `json:"connecting_user_id,omitempty"`
}

// connectRepository registers a repository, creates its ledger row and
// dispatches the bootstrap. Reconnecting while a job is active is a no-op.
func (h *Handler) connectRepository(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Owner == "" || req.Name == "" || req.InstallationID == 0 {
		respondWithError(w, http.StatusBadRequest, "owner, name and installation_id are required")
		return
	}

	job, err := h.engine.Connect(r.Context(), req.Owner, req.Name, req.InstallationID, req.ConnectingUserID)
	if errors.Is(err, apperrors.ErrJobExists) {
		respondWithJSON(w, http.StatusOK, map[string]any{"status": "already_syncing"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to connect repository", "owner", req.Owner, "name", req.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"status": "syncing", "job_id": job.ID})
}

func (h *Handler) resyncRepository(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	job, err := h.engine.Resync(r.Context(), repo)
	if err != nil {
		h.logger.Error("Failed to resync repository", "owner", repo.Owner, "name", repo.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"status": "syncing", "job_id": job.ID})
}

// backfillRepository re-imports the mutable slices without supersession;
// while a job already holds the lock key the request is a no-op.
func (h *Handler) backfillRepository(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	job, err := h.engine.Backfill(r.Context(), repo)
	if errors.Is(err, apperrors.ErrJobExists) {
		respondWithJSON(w, http.StatusOK, map[string]any{"status": "already_syncing"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to backfill repository", "owner", repo.Owner, "name", repo.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"status": "syncing", "job_id": job.ID})
}

func (h *Handler) syncPullRequest(w http.ResponseWriter, r *http.Request) {
	h.syncEntity(w, r, h.engine.SyncPullRequest)
}

func (h *Handler) syncIssue(w http.ResponseWriter, r *http.Request) {
	h.syncEntity(w, r, h.engine.SyncIssue)
}

func (h *Handler) syncEntity(w http.ResponseWriter, r *http.Request,
	sync func(ctx context.Context, repo model.Repository, number int, force bool) (syncer.SyncResult, error)) {
	repo := repoFromContext(r.Context())
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid entity number")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	result, err := sync(r.Context(), repo, number, force)
	if err != nil {
		h.logger.Error("On-demand sync failed",
			"owner", repo.Owner, "repo", repo.Name, "number", number, "error", err)
		respondWithError(w, http.StatusBadGateway, "Sync failed")
		return
	}
	if !result.Found {
		respondWithError(w, http.StatusNotFound, "Entity not found upstream")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) getPullRequest(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid pull request number")
		return
	}

	pr, found, err := h.store.GetPullRequest(r.Context(), repo.ID, number)
	if err != nil {
		h.logger.Error("Failed to get pull request", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		// First sight of an entity triggers a fire-and-forget on-demand sync.
		go func() {
			_, err := h.engine.SyncPullRequest(context.WithoutCancel(r.Context()), repo, number, false)
			if err != nil {
				h.logger.Warn("Background on-demand sync failed", "number", number, "error", err)
			}
		}()
		respondWithJSON(w, http.StatusAccepted, map[string]any{"status": "syncing"})
		return
	}
	respondWithJSON(w, http.StatusOK, pr)
}

func (h *Handler) getIssue(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid issue number")
		return
	}

	issue, found, err := h.store.GetIssue(r.Context(), repo.ID, number)
	if err != nil {
		h.logger.Error("Failed to get issue", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		go func() {
			_, err := h.engine.SyncIssue(context.WithoutCancel(r.Context()), repo, number, false)
			if err != nil {
				h.logger.Warn("Background on-demand sync failed", "number", number, "error", err)
			}
		}()
		respondWithJSON(w, http.StatusAccepted, map[string]any{"status": "syncing"})
		return
	}
	respondWithJSON(w, http.StatusOK, issue)
}

// getPullDiff proxies the raw diff text straight from upstream; diffs are
// not mirrored locally.
func (h *Handler) getPullDiff(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid pull request number")
		return
	}

	diff, found, err := h.engine.PullDiff(r.Context(), repo, number)
	if err != nil {
		h.logger.Error("Failed to fetch pull diff", "number", number, "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream fetch failed")
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Pull request not found upstream")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diff))
}

func (h *Handler) getJobLogs(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || jobID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	logs, found, err := h.engine.JobLogs(r.Context(), repo, jobID)
	if err != nil {
		h.logger.Error("Failed to fetch job logs", "job_id", jobID, "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream fetch failed")
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Workflow job not found upstream")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(logs))
}

func (h *Handler) searchAssignableUsers(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	users, err := h.engine.AssignableUsers(r.Context(), repo, r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("Failed to search assignable users", "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream fetch failed")
		return
	}
	if users == nil {
		users = []ghclient.AssignableUser{}
	}
	respondWithJSON(w, http.StatusOK, users)
}

func (h *Handler) getCounters(w http.ResponseWriter, r *http.Request) {
	repo := repoFromContext(r.Context())
	counters, err := h.store.GetCounters(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("Failed to get counters", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, counters)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	jobs, err := h.store.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, jobs)
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	letters, err := h.store.ListDeadLetters(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, letters)
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
