package github

import (
	"time"

	"github.com/google/go-github/v62/github"

	"github-org-mirror/internal/model"
)

// Translators map go-github payloads onto the stored model. Authors, actors
// and assignees are fed through the caller's UserCollector so each unique
// account is upserted once per batch.

func collectUser(c *model.UserCollector, u *github.User) *int64 {
	if u == nil || u.GetID() == 0 {
		return nil
	}
	c.Add(model.User{
		GithubID:  u.GetID(),
		Login:     u.GetLogin(),
		AvatarURL: u.GetAvatarURL(),
		Type:      u.GetType(),
	})
	id := u.GetID()
	return &id
}

func TranslateRepository(r *github.Repository, installationID int64, connectingUserID *int64) *model.Repository {
	return &model.Repository{
		GithubRepoID:     r.GetID(),
		InstallationID:   installationID,
		Owner:            r.GetOwner().GetLogin(),
		Name:             r.GetName(),
		Private:          r.GetPrivate(),
		Archived:         r.GetArchived(),
		Disabled:         r.GetDisabled(),
		ConnectingUserID: connectingUserID,
		RepoCreatedAt:    r.GetCreatedAt().Time,
		RepoUpdatedAt:    r.GetUpdatedAt().Time,
	}
}

func TranslateBranches(branches []*github.Branch) []model.Branch {
	out := make([]model.Branch, 0, len(branches))
	for _, b := range branches {
		out = append(out, model.Branch{
			Name:      b.GetName(),
			HeadSHA:   b.GetCommit().GetSHA(),
			Protected: b.GetProtected(),
		})
	}
	return out
}

func TranslatePulls(repositoryID int64, prs []*github.PullRequest, users *model.UserCollector) []model.PullRequest {
	out := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, model.PullRequest{
			GithubID:        pr.GetID(),
			RepositoryID:    repositoryID,
			Number:          pr.GetNumber(),
			State:           pr.GetState(),
			Title:           pr.GetTitle(),
			Body:            pr.GetBody(),
			AuthorID:        collectUser(users, pr.GetUser()),
			HeadSHA:         pr.GetHead().GetSHA(),
			HeadRef:         pr.GetHead().GetRef(),
			BaseRef:         pr.GetBase().GetRef(),
			Draft:           pr.GetDraft(),
			Merged:          pr.MergedAt != nil && !pr.MergedAt.IsZero(),
			MergedAt:        timestampPtr(pr.MergedAt),
			ClosedAt:        timestampPtr(pr.ClosedAt),
			GithubCreatedAt: pr.GetCreatedAt().Time,
			GithubUpdatedAt: pr.GetUpdatedAt().Time,
		})
	}
	return out
}

func TranslateIssues(repositoryID int64, issues []*github.Issue, users *model.UserCollector) []model.Issue {
	out := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		assignees := make([]int64, 0, len(is.Assignees))
		for _, a := range is.Assignees {
			if id := collectUser(users, a); id != nil {
				assignees = append(assignees, *id)
			}
		}
		out = append(out, model.Issue{
			GithubID:        is.GetID(),
			RepositoryID:    repositoryID,
			Number:          is.GetNumber(),
			State:           is.GetState(),
			Title:           is.GetTitle(),
			Body:            is.GetBody(),
			AuthorID:        collectUser(users, is.GetUser()),
			AssigneeIDs:     assignees,
			ClosedAt:        timestampPtr(is.ClosedAt),
			GithubCreatedAt: is.GetCreatedAt().Time,
			GithubUpdatedAt: is.GetUpdatedAt().Time,
		})
	}
	return out
}

func TranslateCommits(repositoryID int64, commits []*github.RepositoryCommit, users *model.UserCollector) []model.Commit {
	out := make([]model.Commit, 0, len(commits))
	for _, cm := range commits {
		out = append(out, model.Commit{
			RepositoryID: repositoryID,
			SHA:          cm.GetSHA(),
			Message:      cm.GetCommit().GetMessage(),
			AuthorName:   cm.GetCommit().GetAuthor().GetName(),
			AuthorEmail:  cm.GetCommit().GetAuthor().GetEmail(),
			AuthorID:     collectUser(users, cm.GetAuthor()),
			CommittedAt:  cm.GetCommit().GetAuthor().GetDate().Time,
		})
	}
	return out
}

func TranslateCheckRuns(repositoryID int64, runs []*github.CheckRun) []model.CheckRun {
	out := make([]model.CheckRun, 0, len(runs))
	for _, cr := range runs {
		// Check runs carry no updated_at; completion (else start) time is the
		// monotonic signal for the out-of-order guard.
		updated := cr.GetStartedAt().Time
		if cr.CompletedAt != nil {
			updated = cr.GetCompletedAt().Time
		}
		out = append(out, model.CheckRun{
			GithubID:        cr.GetID(),
			RepositoryID:    repositoryID,
			HeadSHA:         cr.GetHeadSHA(),
			Name:            cr.GetName(),
			Status:          cr.GetStatus(),
			Conclusion:      cr.GetConclusion(),
			StartedAt:       timestampPtr(cr.StartedAt),
			CompletedAt:     timestampPtr(cr.CompletedAt),
			GithubUpdatedAt: updated,
		})
	}
	return out
}

func TranslateWorkflowRuns(repositoryID int64, runs []*github.WorkflowRun, users *model.UserCollector) []model.WorkflowRun {
	out := make([]model.WorkflowRun, 0, len(runs))
	for _, wr := range runs {
		out = append(out, model.WorkflowRun{
			GithubID:        wr.GetID(),
			RepositoryID:    repositoryID,
			WorkflowID:      wr.GetWorkflowID(),
			Name:            wr.GetName(),
			HeadSHA:         wr.GetHeadSHA(),
			HeadBranch:      wr.GetHeadBranch(),
			RunNumber:       wr.GetRunNumber(),
			Event:           wr.GetEvent(),
			Status:          wr.GetStatus(),
			Conclusion:      wr.GetConclusion(),
			ActorID:         collectUser(users, wr.GetActor()),
			GithubCreatedAt: wr.GetCreatedAt().Time,
			GithubUpdatedAt: wr.GetUpdatedAt().Time,
		})
	}
	return out
}

func TranslateWorkflowJobs(repositoryID int64, jobs []*github.WorkflowJob) []model.WorkflowJob {
	out := make([]model.WorkflowJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, model.WorkflowJob{
			GithubID:     j.GetID(),
			RepositoryID: repositoryID,
			RunID:        j.GetRunID(),
			Name:         j.GetName(),
			Status:       j.GetStatus(),
			Conclusion:   j.GetConclusion(),
			StartedAt:    timestampPtr(j.StartedAt),
			CompletedAt:  timestampPtr(j.CompletedAt),
		})
	}
	return out
}

func TranslateComments(repositoryID int64, issueNumber int, comments []*github.IssueComment, users *model.UserCollector) []model.Comment {
	out := make([]model.Comment, 0, len(comments))
	for _, cm := range comments {
		out = append(out, model.Comment{
			GithubID:        cm.GetID(),
			RepositoryID:    repositoryID,
			IssueNumber:     issueNumber,
			AuthorID:        collectUser(users, cm.GetUser()),
			Body:            cm.GetBody(),
			GithubCreatedAt: cm.GetCreatedAt().Time,
			GithubUpdatedAt: cm.GetUpdatedAt().Time,
		})
	}
	return out
}

func TranslateReviews(repositoryID int64, pullNumber int, reviews []*github.PullRequestReview, users *model.UserCollector) []model.Review {
	out := make([]model.Review, 0, len(reviews))
	for _, rv := range reviews {
		// Reviews are immutable once submitted; submitted_at doubles as the
		// guard timestamp.
		out = append(out, model.Review{
			GithubID:        rv.GetID(),
			RepositoryID:    repositoryID,
			PullNumber:      pullNumber,
			AuthorID:        collectUser(users, rv.GetUser()),
			State:           rv.GetState(),
			Body:            rv.GetBody(),
			SubmittedAt:     timestampPtr(rv.SubmittedAt),
			GithubUpdatedAt: rv.GetSubmittedAt().Time,
		})
	}
	return out
}

func TranslateReviewComments(repositoryID int64, pullNumber int, comments []*github.PullRequestComment, users *model.UserCollector) []model.ReviewComment {
	out := make([]model.ReviewComment, 0, len(comments))
	for _, rc := range comments {
		var reviewID *int64
		if rc.GetPullRequestReviewID() != 0 {
			id := rc.GetPullRequestReviewID()
			reviewID = &id
		}
		out = append(out, model.ReviewComment{
			GithubID:        rc.GetID(),
			RepositoryID:    repositoryID,
			PullNumber:      pullNumber,
			ReviewID:        reviewID,
			AuthorID:        collectUser(users, rc.GetUser()),
			Path:            rc.GetPath(),
			Line:            rc.GetLine(),
			Body:            rc.GetBody(),
			GithubCreatedAt: rc.GetCreatedAt().Time,
			GithubUpdatedAt: rc.GetUpdatedAt().Time,
		})
	}
	return out
}

func TranslatePullFiles(repositoryID int64, pullNumber int, files []*github.CommitFile) []model.PullRequestFile {
	out := make([]model.PullRequestFile, 0, len(files))
	for _, f := range files {
		out = append(out, model.PullRequestFile{
			RepositoryID: repositoryID,
			PullNumber:   pullNumber,
			Path:         f.GetFilename(),
			Status:       f.GetStatus(),
			Additions:    f.GetAdditions(),
			Deletions:    f.GetDeletions(),
			Patch:        f.GetPatch(),
		})
	}
	return out
}

// TranslateCollaborators maps collaborator permission maps onto permission
// rows and collects the users themselves.
func TranslateCollaborators(repositoryID int64, collaborators []*github.User, users *model.UserCollector) []model.PermissionRow {
	out := make([]model.PermissionRow, 0, len(collaborators))
	for _, u := range collaborators {
		id := collectUser(users, u)
		if id == nil {
			continue
		}
		perms := u.GetPermissions()
		out = append(out, model.PermissionRow{
			UserID:       *id,
			RepositoryID: repositoryID,
			Pull:         perms["pull"],
			Triage:       perms["triage"],
			Push:         perms["push"],
			Maintain:     perms["maintain"],
			Admin:        perms["admin"],
			RoleName:     u.GetRoleName(),
		})
	}
	return out
}

func timestampPtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
