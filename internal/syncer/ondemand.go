package syncer

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v62/github"

	ghclient "github-org-mirror/internal/github"
	"github-org-mirror/internal/model"
)

// SyncResult reports what an on-demand request did. Synced is false when the
// entity was already present and no writes happened.
type SyncResult struct {
	Synced bool `json:"synced"`
	Found  bool `json:"found"`
}

// SyncPullRequest fetches one PR plus its comments, reviews, review comments
// and check runs, through the same writers the bootstrap uses. An entity
// already present short-circuits unless force is set.
func (e *Engine) SyncPullRequest(ctx context.Context, repo model.Repository, number int, force bool) (SyncResult, error) {
	exists, err := e.store.PullRequestExists(ctx, repo.ID, number)
	if err != nil {
		return SyncResult{}, err
	}
	if exists && !force {
		return SyncResult{Synced: false, Found: true}, nil
	}

	client, err := e.clients(ctx, repo)
	if err != nil {
		return SyncResult{}, err
	}

	// Network phase: gather everything before any write.
	pr, found, err := client.GetPullRequest(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}
	if !found {
		return SyncResult{Synced: false, Found: false}, nil
	}
	comments, err := client.ListIssueComments(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}
	reviews, err := client.ListReviews(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}
	reviewComments, err := client.ListReviewComments(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}
	checkRuns, err := client.ListCheckRunsForRef(ctx, repo.Owner, repo.Name, pr.GetHead().GetSHA())
	if err != nil {
		return SyncResult{}, err
	}
	files, err := client.ListPullFiles(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}

	// Write phase: same writers and dedup collector as the bootstrap, batch
	// of one, so the stored shape is identical on both paths.
	users := model.NewUserCollector()
	prRows := ghclient.TranslatePulls(repo.ID, []*gh.PullRequest{pr}, users)
	commentRows := ghclient.TranslateComments(repo.ID, number, comments, users)
	reviewRows := ghclient.TranslateReviews(repo.ID, number, reviews, users)
	reviewCommentRows := ghclient.TranslateReviewComments(repo.ID, number, reviewComments, users)
	checkRunRows := ghclient.TranslateCheckRuns(repo.ID, checkRuns)
	fileRows := ghclient.TranslatePullFiles(repo.ID, number, files)

	if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertPullRequests(ctx, prRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertComments(ctx, commentRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertReviews(ctx, reviewRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertReviewComments(ctx, reviewCommentRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertCheckRuns(ctx, checkRunRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertPullFiles(ctx, repo.ID, number, fileRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.RebuildCounters(ctx, repo.ID); err != nil {
		e.logger.Warn("Counter refresh after on-demand sync failed",
			"owner", repo.Owner, "repo", repo.Name, "error", err)
	}

	return SyncResult{Synced: true, Found: true}, nil
}

// SyncIssue is the issue analog of SyncPullRequest.
func (e *Engine) SyncIssue(ctx context.Context, repo model.Repository, number int, force bool) (SyncResult, error) {
	exists, err := e.store.IssueExists(ctx, repo.ID, number)
	if err != nil {
		return SyncResult{}, err
	}
	if exists && !force {
		return SyncResult{Synced: false, Found: true}, nil
	}

	client, err := e.clients(ctx, repo)
	if err != nil {
		return SyncResult{}, err
	}

	issue, found, err := client.GetIssue(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}
	if !found {
		return SyncResult{Synced: false, Found: false}, nil
	}
	if issue.IsPullRequest() {
		// Issue numbers and PR numbers share a space; route to the PR path.
		return e.SyncPullRequest(ctx, repo, number, force)
	}
	comments, err := client.ListIssueComments(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return SyncResult{}, err
	}

	users := model.NewUserCollector()
	issueRows := ghclient.TranslateIssues(repo.ID, []*gh.Issue{issue}, users)
	commentRows := ghclient.TranslateComments(repo.ID, number, comments, users)

	if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertIssues(ctx, issueRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.UpsertComments(ctx, commentRows); err != nil {
		return SyncResult{}, err
	}
	if err := e.store.RebuildCounters(ctx, repo.ID); err != nil {
		e.logger.Warn("Counter refresh after on-demand sync failed",
			"owner", repo.Owner, "repo", repo.Name, "error", err)
	}

	return SyncResult{Synced: true, Found: true}, nil
}

// RefreshPermissionsIfStale re-syncs a repository's permission rows when the
// cached row is older than the staleness window. The window is a heuristic:
// a role changed mid-window reads stale until the next refresh.
func (e *Engine) RefreshPermissionsIfStale(ctx context.Context, repo model.Repository, syncedAt time.Time) {
	if time.Since(syncedAt) < e.permissionStaleness {
		return
	}
	client, err := e.clients(ctx, repo)
	if err != nil {
		e.logger.Warn("Permission refresh could not resolve credential", "error", err)
		return
	}
	if _, err := e.refreshPermissions(ctx, client, repo); err != nil {
		e.logger.Warn("Permission refresh failed",
			"owner", repo.Owner, "repo", repo.Name, "error", err)
	}
}

func (e *Engine) refreshPermissions(ctx context.Context, client Client, repo model.Repository) (int, error) {
	collaborators, err := client.ListCollaborators(ctx, repo.Owner, repo.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to list collaborators: %w", err)
	}
	users := model.NewUserCollector()
	rows := ghclient.TranslateCollaborators(repo.ID, collaborators, users)
	if err := e.store.UpsertUsers(ctx, users.Users()); err != nil {
		return 0, err
	}
	if err := e.store.UpsertPermissions(ctx, repo.ID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
