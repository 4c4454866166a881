package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	gh "github.com/google/go-github/v62/github"
	"golang.org/x/sync/errgroup"

	apperrors "github-org-mirror/internal/errors"
	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
)

// Bootstrap step names, in execution order. Completed steps are recorded on
// the ledger so a re-dispatched job resumes instead of re-importing.
const (
	stepBranches     = "branches"
	stepPulls        = "pulls"
	stepIssues       = "issues"
	stepCommits      = "commits"
	stepCheckRuns    = "check_runs"
	stepWorkflowRuns = "workflow_runs"
	stepPullFiles    = "pull_files"
	stepPermissions  = "permissions"
)

var bootstrapSteps = []string{
	stepBranches, stepPulls, stepIssues, stepCommits,
	stepCheckRuns, stepWorkflowRuns, stepPullFiles, stepPermissions,
}

// Backfill re-imports the mutable slices only; branch and permission rows
// are maintained by webhooks and the staleness refresher.
var backfillSteps = []string{
	stepPulls, stepIssues, stepCommits,
	stepCheckRuns, stepWorkflowRuns, stepPullFiles,
}

func stepsForJob(t model.JobType) []string {
	if t == model.JobTypeBackfill {
		return backfillSteps
	}
	return bootstrapSteps
}

const (
	maxStepAttempts = 5
	backoffBase     = 2 * time.Second

	// checkRunConcurrency bounds the parallel per-SHA sub-fetches of the
	// check-run step.
	checkRunConcurrency = 4
)

// stepFunc fetches one slice of the repository and persists it, returning
// the number of items written. Steps return counts, not records, so the
// ledger stays bounded in size.
type stepFunc func(ctx context.Context, client Client, repo model.Repository) (int, error)

// runBootstrap drives a ledger job through all bootstrap steps. It survives
// re-dispatch: finished steps are skipped, and a ledger row flipped to
// failed underneath it (by the sweep) makes the worker stand down.
func (e *Engine) runBootstrap(ctx context.Context, jobID string) {
	logger := e.logger.With("job_id", jobID)

	job, ok, err := e.store.GetJob(ctx, jobID)
	if err != nil || !ok {
		logger.Error("Bootstrap dispatch could not load its job", "error", err)
		return
	}
	repo, ok, err := e.repositoryForJob(ctx, job)
	if err != nil || !ok {
		logger.Error("Bootstrap dispatch could not load its repository", "error", err)
		_ = e.store.MarkJobFailed(ctx, jobID, "repository row missing")
		return
	}
	logger = logger.With("owner", repo.Owner, "repo", repo.Name)

	client, err := e.clients(ctx, repo)
	if err != nil {
		logger.Error("Failed to resolve repository credential", "error", err)
		_ = e.store.MarkJobFailed(ctx, jobID, fmt.Sprintf("credential resolution: %v", err))
		return
	}

	steps := map[string]stepFunc{
		stepBranches:     e.stepBranches,
		stepPulls:        e.stepPulls,
		stepIssues:       e.stepIssues,
		stepCommits:      e.stepCommits,
		stepCheckRuns:    e.stepCheckRuns,
		stepWorkflowRuns: e.stepWorkflowRuns,
		stepPullFiles:    e.stepPullFiles,
		stepPermissions:  e.stepPermissions,
	}

	for _, name := range stepsForJob(job.Type) {
		if slices.Contains(job.CompletedSteps, name) {
			continue
		}

		// The sweep may have failed this job while a previous step ran.
		// A superseded worker stands down; its committed writes are
		// idempotent and harmless.
		current, ok, err := e.store.GetJob(ctx, jobID)
		if err != nil || !ok {
			logger.Error("Failed to re-read job before step", "step", name, "error", err)
			return
		}
		if current.State.Terminal() {
			logger.Warn("Job was superseded mid-bootstrap, standing down", "step", name, "state", current.State)
			return
		}

		if err := e.store.MarkJobRunning(ctx, jobID, name); err != nil {
			if errors.Is(err, apperrors.ErrJobTerminal) {
				logger.Warn("Job was superseded mid-bootstrap, standing down", "step", name)
				return
			}
			logger.Error("Failed to mark job running", "step", name, "error", err)
			return
		}

		count, err := e.runStepWithRetry(ctx, jobID, name, steps[name], client, repo)
		if err != nil {
			if errors.Is(err, apperrors.ErrJobTerminal) {
				logger.Warn("Job was superseded mid-bootstrap, standing down", "step", name)
				return
			}
			logger.Error("Bootstrap step failed permanently", "step", name, "error", err)
			_ = e.store.MarkJobFailed(ctx, jobID, fmt.Sprintf("step %s: %v", name, err))
			return
		}

		if err := e.store.CompleteJobStep(ctx, jobID, name, count); err != nil {
			logger.Error("Failed to record completed step", "step", name, "error", err)
			return
		}
		logger.Info("Bootstrap step completed", "step", name, "items", count)
	}

	if err := e.store.MarkJobDone(ctx, jobID); err != nil {
		if errors.Is(err, apperrors.ErrJobTerminal) {
			logger.Warn("Job was superseded before completion, standing down")
			return
		}
		logger.Error("Failed to mark job done", "error", err)
		return
	}
	// One-time full rebuild of the derived view, deferred during bulk import.
	if err := e.store.RebuildCounters(ctx, repo.ID); err != nil {
		logger.Warn("Post-bootstrap counter rebuild failed", "error", err)
	}
	logger.Info("Bootstrap completed")
}

// runStepWithRetry retries one step on transient failure. Rate-limit errors
// back off exponentially with the server-provided delay as the floor;
// exhausted attempts surface the last error.
func (e *Engine) runStepWithRetry(ctx context.Context, jobID, name string, step stepFunc, client Client, repo model.Repository) (int, error) {
	var lastErr error
	backoff := backoffBase

	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		count, err := step(ctx, client, repo)
		if err == nil {
			return count, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		delay := backoff
		if hint, ok := apperrors.IsRateLimit(err); ok {
			if hint > delay {
				delay = hint
			}
			e.logger.Warn("Rate limited during bootstrap step",
				"job_id", jobID, "step", name, "attempt", attempt, "delay", delay)
		} else {
			e.logger.Warn("Transient failure during bootstrap step",
				"job_id", jobID, "step", name, "attempt", attempt, "error", err)
		}

		if attempt == maxStepAttempts {
			break
		}
		if err := e.store.MarkJobRetry(ctx, jobID, err.Error()); err != nil {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}

		// A sweep or resync verdict landing during the sleep makes this
		// guarded transition refuse with ErrJobTerminal.
		if err := e.store.MarkJobRunning(ctx, jobID, name); err != nil {
			return 0, err
		}
		backoff *= 2
	}
	return 0, fmt.Errorf("exhausted %d attempts: %w", maxStepAttempts, lastErr)
}

func (e *Engine) repositoryForJob(ctx context.Context, job model.SyncJob) (model.Repository, bool, error) {
	// The ledger stores the local repository ID; resolve it back to a row.
	// Lock keys are derived, never parsed.
	return e.store.GetRepositoryByID(ctx, job.RepositoryID)
}

func (e *Engine) stepBranches(ctx context.Context, client Client, repo model.Repository) (int, error) {
	total := 0
	err := client.ListBranches(ctx, repo.Owner, repo.Name, func(page []*gh.Branch) error {
		branches := ghclient.TranslateBranches(page)
		if err := e.store.UpsertBranches(ctx, repo.ID, branches); err != nil {
			return err
		}
		total += len(branches)
		return nil
	})
	return total, err
}

func (e *Engine) stepPulls(ctx context.Context, client Client, repo model.Repository) (int, error) {
	total := 0
	err := client.ListPullRequests(ctx, repo.Owner, repo.Name, func(page []*gh.PullRequest) error {
		users := model.NewUserCollector()
		prs := ghclient.TranslatePulls(repo.ID, page, users)
		if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
			return err
		}
		if err := e.store.UpsertPullRequests(ctx, prs); err != nil {
			return err
		}
		total += len(prs)
		return nil
	})
	return total, err
}

func (e *Engine) stepIssues(ctx context.Context, client Client, repo model.Repository) (int, error) {
	total := 0
	err := client.ListIssues(ctx, repo.Owner, repo.Name, func(page []*gh.Issue) error {
		users := model.NewUserCollector()
		issues := ghclient.TranslateIssues(repo.ID, page, users)
		if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
			return err
		}
		if err := e.store.UpsertIssues(ctx, issues); err != nil {
			return err
		}
		total += len(issues)
		return nil
	})
	return total, err
}

func (e *Engine) stepCommits(ctx context.Context, client Client, repo model.Repository) (int, error) {
	total := 0
	err := client.ListCommits(ctx, repo.Owner, repo.Name, time.Time{}, func(page []*gh.RepositoryCommit) error {
		users := model.NewUserCollector()
		commits := ghclient.TranslateCommits(repo.ID, page, users)
		if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
			return err
		}
		if err := e.store.UpsertCommits(ctx, commits); err != nil {
			return err
		}
		total += len(commits)
		return nil
	})
	return total, err
}

// stepCheckRuns fetches check runs for every open PR head SHA, a bounded
// number of SHAs in flight at once. The head set is re-derived from the
// store so a resumed job does not depend on the PR step's in-memory result.
func (e *Engine) stepCheckRuns(ctx context.Context, client Client, repo model.Repository) (int, error) {
	heads, err := e.store.ListOpenPullHeads(ctx, repo.ID)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkRunConcurrency)
	results := make([][]model.CheckRun, len(heads))

	for i, head := range heads {
		g.Go(func() error {
			runs, err := client.ListCheckRunsForRef(gctx, repo.Owner, repo.Name, head.HeadSHA)
			if err != nil {
				return err
			}
			results[i] = ghclient.TranslateCheckRuns(repo.ID, runs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Network phase done; writes are a separate, retryable phase.
	total := 0
	for _, runs := range results {
		if err := e.store.UpsertCheckRuns(ctx, runs); err != nil {
			return 0, err
		}
		total += len(runs)
	}
	return total, nil
}

func (e *Engine) stepWorkflowRuns(ctx context.Context, client Client, repo model.Repository) (int, error) {
	total := 0
	err := client.ListWorkflowRuns(ctx, repo.Owner, repo.Name, func(page []*gh.WorkflowRun) error {
		users := model.NewUserCollector()
		runs := ghclient.TranslateWorkflowRuns(repo.ID, page, users)
		if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
			return err
		}
		if err := e.store.UpsertWorkflowRuns(ctx, runs); err != nil {
			return err
		}
		total += len(runs)

		for _, run := range page {
			jobs, err := client.ListWorkflowJobs(ctx, repo.Owner, repo.Name, run.GetID())
			if err != nil {
				return err
			}
			translated := ghclient.TranslateWorkflowJobs(repo.ID, jobs)
			if err := e.store.UpsertWorkflowJobs(ctx, translated); err != nil {
				return err
			}
			total += len(translated)
		}
		return nil
	})
	return total, err
}

// stepPullFiles schedules the per-PR file-diff sync for every open PR.
func (e *Engine) stepPullFiles(ctx context.Context, client Client, repo model.Repository) (int, error) {
	heads, err := e.store.ListOpenPullHeads(ctx, repo.ID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, head := range heads {
		files, err := client.ListPullFiles(ctx, repo.Owner, repo.Name, head.Number)
		if err != nil {
			return 0, err
		}
		translated := ghclient.TranslatePullFiles(repo.ID, head.Number, files)
		if err := e.store.UpsertPullFiles(ctx, repo.ID, head.Number, translated); err != nil {
			return 0, err
		}
		total += len(translated)
	}
	return total, nil
}

func (e *Engine) stepPermissions(ctx context.Context, client Client, repo model.Repository) (int, error) {
	return e.refreshPermissions(ctx, client, repo)
}
