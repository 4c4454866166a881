// Package github wraps the GitHub REST/GraphQL surface behind the narrow
// client the sync engine uses: token-resolved auth, page streaming, rate
// limit classification, and lenient decoding with dead-letter diversion.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "github-org-mirror/internal/errors"
)

const (
	perPage = 100

	// defaultRateLimitDelay is used when the server gives no usable hint.
	defaultRateLimitDelay = 60 * time.Second
)

// Client is a wrapper around the go-github client for one credential.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
	sink   DeadLetterSink
}

// NewClient builds a client from a resolved token source. baseURL other than
// the public API routes all calls to an enterprise host (tests use this too).
func NewClient(ts oauth2.TokenSource, baseURL string, logger *slog.Logger, sink DeadLetterSink) (*Client, error) {
	hc := oauth2.NewClient(context.Background(), ts)
	gh := github.NewClient(hc)
	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		gh, err = github.NewClient(hc).WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure github base URL: %w", err)
		}
	}
	return &Client{gh: gh, logger: logger, sink: sink}, nil
}

// GetRepository fetches repository details.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*github.Repository, error) {
	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err := c.classify(resp, err); err != nil {
		return nil, err
	}
	return repo, nil
}

// ListBranches streams branch pages through fn. fn runs once per page so the
// caller can persist a page before the next one is fetched.
func (c *Client) ListBranches(ctx context.Context, owner, name string, fn func([]*github.Branch) error) error {
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
		if err := c.classify(resp, err); err != nil {
			return err
		}
		if err := fn(branches); err != nil {
			return err
		}
		if resp.NextPage == 0 || len(branches) < perPage {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

// ListPullRequests streams all pull requests (any state) page by page.
// Pages are fetched raw and decoded leniently: a malformed element goes to
// the dead-letter sink instead of aborting the sync step.
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, fn func([]*github.PullRequest) error) error {
	source := fmt.Sprintf("pulls:%s/%s", owner, name)
	path := fmt.Sprintf("repos/%s/%s/pulls?state=all&sort=updated&direction=desc", owner, name)
	return streamLenientPages(ctx, c, path, source, validatePull, fn)
}

// ListIssues streams all issues page by page. The issues endpoint also
// returns pull requests; those elements are dropped here.
func (c *Client) ListIssues(ctx context.Context, owner, name string, fn func([]*github.Issue) error) error {
	source := fmt.Sprintf("issues:%s/%s", owner, name)
	path := fmt.Sprintf("repos/%s/%s/issues?state=all&sort=updated&direction=desc", owner, name)
	return streamLenientPages(ctx, c, path, source, validateIssue, func(page []*github.Issue) error {
		issues := page[:0]
		for _, is := range page {
			if !is.IsPullRequest() {
				issues = append(issues, is)
			}
		}
		return fn(issues)
	})
}

// ListCommits streams commit pages since a lower bound (zero means all).
func (c *Client) ListCommits(ctx context.Context, owner, name string, since time.Time, fn func([]*github.RepositoryCommit) error) error {
	opts := &github.CommitsListOptions{Since: since, ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err := c.classify(resp, err); err != nil {
			// 409 means the repository is empty; nothing to stream.
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return nil
			}
			return err
		}
		if err := fn(commits); err != nil {
			return err
		}
		if resp.NextPage == 0 || len(commits) < perPage {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

// ListCheckRunsForRef fetches all check runs for one head SHA.
func (c *Client) ListCheckRunsForRef(ctx context.Context, owner, name, ref string) ([]*github.CheckRun, error) {
	var all []*github.CheckRun
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		results, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, name, ref, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, results.CheckRuns...)
		if resp.NextPage == 0 || len(results.CheckRuns) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListWorkflowRuns streams workflow run pages.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, name string, fn func([]*github.WorkflowRun) error) error {
	opts := &github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, name, opts)
		if err := c.classify(resp, err); err != nil {
			return err
		}
		if err := fn(runs.WorkflowRuns); err != nil {
			return err
		}
		if resp.NextPage == 0 || len(runs.WorkflowRuns) < perPage {
			return nil
		}
		opts.Page = resp.NextPage
	}
}

// ListWorkflowJobs fetches all jobs of one workflow run.
func (c *Client) ListWorkflowJobs(ctx context.Context, owner, name string, runID int64) ([]*github.WorkflowJob, error) {
	var all []*github.WorkflowJob
	opts := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, name, runID, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, jobs.Jobs...)
		if resp.NextPage == 0 || len(jobs.Jobs) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest fetches a single pull request. found is false on 404.
func (c *Client) GetPullRequest(ctx context.Context, owner, name string, number int) (pr *github.PullRequest, found bool, err error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err := c.classify(resp, err); err != nil {
		return nil, false, err
	}
	return pr, true, nil
}

// GetIssue fetches a single issue. found is false on 404.
func (c *Client) GetIssue(ctx context.Context, owner, name string, number int) (issue *github.Issue, found bool, err error) {
	issue, resp, err := c.gh.Issues.Get(ctx, owner, name, number)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err := c.classify(resp, err); err != nil {
		return nil, false, err
	}
	return issue, true, nil
}

// ListIssueComments fetches all conversation comments for an issue or PR.
func (c *Client) ListIssueComments(ctx context.Context, owner, name string, number int) ([]*github.IssueComment, error) {
	var all []*github.IssueComment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, comments...)
		if resp.NextPage == 0 || len(comments) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListReviews fetches all reviews for a pull request.
func (c *Client) ListReviews(ctx context.Context, owner, name string, number int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: perPage}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 || len(reviews) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListReviewComments fetches all inline review comments for a pull request.
func (c *Client) ListReviewComments(ctx context.Context, owner, name string, number int) ([]*github.PullRequestComment, error) {
	var all []*github.PullRequestComment
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := c.gh.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, comments...)
		if resp.NextPage == 0 || len(comments) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListPullFiles fetches the changed files of a pull request.
func (c *Client) ListPullFiles(ctx context.Context, owner, name string, number int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: perPage}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, name, number, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, files...)
		if resp.NextPage == 0 || len(files) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListCollaborators fetches all repository collaborators with their
// permission maps, for the permission refresher.
func (c *Client) ListCollaborators(ctx context.Context, owner, name string) ([]*github.User, error) {
	var all []*github.User
	opts := &github.ListCollaboratorsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		users, resp, err := c.gh.Repositories.ListCollaborators(ctx, owner, name, opts)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		all = append(all, users...)
		if resp.NextPage == 0 || len(users) < perPage {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullDiff fetches the raw diff text of a pull request. found is false
// on 404; JSON parsing is skipped entirely.
func (c *Client) GetPullDiff(ctx context.Context, owner, name string, number int) (diff string, found bool, err error) {
	raw, resp, err := c.gh.PullRequests.GetRaw(ctx, owner, name, number, github.RawOptions{Type: github.Diff})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if err := c.classify(resp, err); err != nil {
		return "", false, err
	}
	return raw, true, nil
}

// GetJobLogs fetches the raw log text of one workflow job. found is false
// on 404.
func (c *Client) GetJobLogs(ctx context.Context, owner, name string, jobID int64) (logs string, found bool, err error) {
	u, resp, err := c.gh.Actions.GetWorkflowJobLogs(ctx, owner, name, jobID, 4)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if err := c.classify(resp, err); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false, err
	}
	// The log URL is pre-signed; auth headers must not be attached.
	logResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch job logs: %w", err)
	}
	defer logResp.Body.Close()
	if logResp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if logResp.StatusCode >= 300 {
		return "", false, fmt.Errorf("job log fetch returned %d", logResp.StatusCode)
	}
	body, err := io.ReadAll(logResp.Body)
	if err != nil {
		return "", false, err
	}
	return string(body), true, nil
}

// AssignableUser is a node of the GraphQL assignable-user search.
type AssignableUser struct {
	ID        int64
	Login     string
	AvatarURL string
}

const assignableUsersQuery = `
query($owner: String!, $name: String!, $query: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    assignableUsers(first: 100, query: $query, after: $cursor) {
      nodes { databaseId login avatarUrl }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

// SearchAssignableUsers runs the paginated GraphQL assignable-user search.
func (c *Client) SearchAssignableUsers(ctx context.Context, owner, name, query string) ([]AssignableUser, error) {
	var all []AssignableUser
	var cursor *string
	for {
		body := map[string]any{
			"query": assignableUsersQuery,
			"variables": map[string]any{
				"owner": owner, "name": name, "query": query, "cursor": cursor,
			},
		}
		req, err := c.gh.NewRequest(http.MethodPost, "graphql", body)
		if err != nil {
			return nil, err
		}
		var result struct {
			Data struct {
				Repository struct {
					AssignableUsers struct {
						Nodes []struct {
							DatabaseID int64  `json:"databaseId"`
							Login      string `json:"login"`
							AvatarURL  string `json:"avatarUrl"`
						} `json:"nodes"`
						PageInfo struct {
							HasNextPage bool   `json:"hasNextPage"`
							EndCursor   string `json:"endCursor"`
						} `json:"pageInfo"`
					} `json:"assignableUsers"`
				} `json:"repository"`
			} `json:"data"`
		}
		resp, err := c.gh.Do(ctx, req, &result)
		if err := c.classify(resp, err); err != nil {
			return nil, err
		}
		for _, n := range result.Data.Repository.AssignableUsers.Nodes {
			all = append(all, AssignableUser{ID: n.DatabaseID, Login: n.Login, AvatarURL: n.AvatarURL})
		}
		if !result.Data.Repository.AssignableUsers.PageInfo.HasNextPage {
			return all, nil
		}
		cursor = github.String(result.Data.Repository.AssignableUsers.PageInfo.EndCursor)
	}
}

// streamLenient pages through a raw list endpoint, lenient-decodes each page
// and hands the survivors to fn before fetching the next page.
func streamLenientPages[T any](ctx context.Context, c *Client, path, source string, validate func(*T) error, fn func([]*T) error) error {
	page := 1
	for {
		url := fmt.Sprintf("%s&per_page=%d&page=%d", path, perPage, page)
		req, err := c.gh.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		var raw []json.RawMessage
		resp, err := c.gh.Do(ctx, req, &raw)
		if err := c.classify(resp, err); err != nil {
			return err
		}
		decoded := decodeLenient(ctx, c.sink, source, raw, validate)
		if len(decoded) < len(raw) {
			c.logger.Warn("Diverted malformed list elements to dead letters",
				"source", source, "page", page, "rejected", len(raw)-len(decoded))
		}
		if err := fn(decoded); err != nil {
			return err
		}
		if resp.NextPage == 0 || len(raw) < perPage {
			return nil
		}
		page = resp.NextPage
	}
}

// classify maps a request outcome to the error taxonomy. Rate limiting is
// surfaced as *errors.RateLimitError with a computed delay; everything else
// passes through.
func (c *Client) classify(resp *github.Response, err error) error {
	if resp != nil && isRateLimited(resp.Response) {
		return &apperrors.RateLimitError{RetryAfter: retryDelay(resp.Response)}
	}
	if err == nil {
		return nil
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		delay := defaultRateLimitDelay
		if !rle.Rate.Reset.IsZero() {
			if d := time.Until(rle.Rate.Reset.Time); d > 0 {
				delay = d
			}
		}
		return &apperrors.RateLimitError{RetryAfter: delay}
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		delay := defaultRateLimitDelay
		if arle.RetryAfter != nil {
			delay = *arle.RetryAfter
		}
		return &apperrors.RateLimitError{RetryAfter: delay}
	}
	return err
}

// isRateLimited classifies a response: 429, or 403 with the remaining
// quota header at zero.
func isRateLimited(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// retryDelay computes the back-off from Retry-After, then X-RateLimit-Reset,
// falling back to 60s.
func retryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return defaultRateLimitDelay
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return defaultRateLimitDelay
}

func validatePull(pr *github.PullRequest) error {
	if pr.ID == nil || pr.Number == nil {
		return errors.New("pull request missing id or number")
	}
	if pr.UpdatedAt == nil {
		return errors.New("pull request missing updated_at")
	}
	return nil
}

func validateIssue(is *github.Issue) error {
	if is.ID == nil || is.Number == nil {
		return errors.New("issue missing id or number")
	}
	if is.UpdatedAt == nil {
		return errors.New("issue missing updated_at")
	}
	return nil
}
