// internal/github/client_test.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	apperrors "github-org-mirror/internal/errors"
)

type sinkRecord struct {
	Source     string
	DeliveryID string
	Reason     string
	Payload    string
}

// memorySink records dead letters in memory for assertions.
type memorySink struct {
	mu      sync.Mutex
	records []sinkRecord
}

func (s *memorySink) Record(_ context.Context, source, deliveryID, reason, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, sinkRecord{source, deliveryID, reason, payload})
	return nil
}

func (s *memorySink) all() []sinkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkRecord(nil), s.records...)
}

// setupTestClient creates a httptest server and a client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *memorySink, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := &memorySink{}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	client, err := NewClient(ts, server.URL, logger, sink)
	require.NoError(t, err)

	return client, sink, server
}

func TestClient_GetRepository(t *testing.T) {
	t.Run("fetches repository", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, "/repos/test/repo"), "unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}, "private": true}`)
		})
		client, _, _ := setupTestClient(t, handler)

		repo, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, "repo", repo.GetName())
		assert.True(t, repo.GetPrivate())
	})

	t.Run("classifies 403 with exhausted quota as rate limit", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
		})
		client, _, _ := setupTestClient(t, handler)

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		var rle *apperrors.RateLimitError
		require.ErrorAs(t, err, &rle)
		assert.Equal(t, 30*time.Second, rle.RetryAfter)
	})

	t.Run("classifies 429 as rate limit with default delay", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintln(w, `{"message": "too many requests"}`)
		})
		client, _, _ := setupTestClient(t, handler)

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		delay, ok := apperrors.IsRateLimit(err)
		require.True(t, ok)
		assert.Equal(t, defaultRateLimitDelay, delay)
	})

	t.Run("passes through other errors", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, `{"message": "boom"}`)
		})
		client, _, _ := setupTestClient(t, handler)

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		_, ok := apperrors.IsRateLimit(err)
		assert.False(t, ok)
	})
}

func TestClient_ListPullRequests_LenientDecoding(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.Contains(r.URL.Path, "/pulls"), "unexpected path %s", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		// One valid element, one with a mistyped id, one missing its number.
		fmt.Fprintf(w, `[
			{"id": 10, "number": 1, "state": "open", "updated_at": %q},
			{"id": "not-a-number", "number": 2},
			{"id": 12, "state": "open", "updated_at": %q}
		]`, now, now)
	})
	client, sink, _ := setupTestClient(t, handler)

	var got []*github.PullRequest
	err := client.ListPullRequests(context.Background(), "test", "repo", func(page []*github.PullRequest) error {
		got = append(got, page...)
		return nil
	})

	require.NoError(t, err, "malformed elements must not abort the stream")
	require.Len(t, got, 1, "only the valid element survives")
	assert.Equal(t, 1, got[0].GetNumber())

	records := sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, "pulls:test/repo", records[0].Source)
	assert.Equal(t, "pulls:test/repo[1]", records[0].DeliveryID)
	assert.Equal(t, "pulls:test/repo[2]", records[1].DeliveryID)
	assert.Contains(t, records[1].Reason, "missing id or number")
}

func TestClient_ListIssues_FiltersPullRequests(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		// The issues endpoint interleaves pull requests; they carry a
		// pull_request key and must be dropped.
		fmt.Fprintf(w, `[
			{"id": 20, "number": 5, "state": "open", "updated_at": %q},
			{"id": 21, "number": 6, "state": "open", "updated_at": %q, "pull_request": {"url": "https://example.com/pulls/6"}}
		]`, now, now)
	})
	client, sink, _ := setupTestClient(t, handler)

	var got []*github.Issue
	err := client.ListIssues(context.Background(), "test", "repo", func(page []*github.Issue) error {
		got = append(got, page...)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].GetNumber())
	assert.Empty(t, sink.all(), "filtered pull requests are not dead letters")
}

func TestClient_ListBranches_Pagination(t *testing.T) {
	var pagesServed int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		page := r.URL.Query().Get("page")
		w.WriteHeader(http.StatusOK)
		switch page {
		case "", "1":
			fmt.Fprint(w, "[")
			for i := 0; i < perPage; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"name": "branch-%d", "commit": {"sha": "sha-%d"}}`, i, i)
			}
			fmt.Fprint(w, "]")
		default:
			fmt.Fprint(w, `[{"name": "last", "commit": {"sha": "sha-last"}}]`)
		}
	})
	// go-github reads pagination from the Link header; emulate it.
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" || r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s?page=2&per_page=%d>; rel="next"`, r.Host, r.URL.Path, perPage))
		}
		handler.ServeHTTP(w, r)
	})
	client, _, _ := setupTestClient(t, wrapped)

	var total int
	err := client.ListBranches(context.Background(), "test", "repo", func(page []*github.Branch) error {
		total += len(page)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, pagesServed)
	assert.Equal(t, perPage+1, total)
}

func TestClient_GetPullRequest_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"message": "Not Found"}`)
	})
	client, _, _ := setupTestClient(t, handler)

	pr, found, err := client.GetPullRequest(context.Background(), "test", "repo", 99)

	require.NoError(t, err, "a 404 is an answer, not an error")
	assert.False(t, found)
	assert.Nil(t, pr)
}

func TestClient_ListCommits_EmptyRepository(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintln(w, `{"message": "Git Repository is empty."}`)
	})
	client, _, _ := setupTestClient(t, handler)

	var calls int
	err := client.ListCommits(context.Background(), "test", "repo", time.Time{}, func([]*github.RepositoryCommit) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRetryDelay(t *testing.T) {
	t.Run("prefers Retry-After", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", "15")
		resp.Header.Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(5*time.Minute).Unix()))
		assert.Equal(t, 15*time.Second, retryDelay(resp))
	})

	t.Run("falls back to reset epoch", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(2*time.Minute).Unix()))
		d := retryDelay(resp)
		assert.Greater(t, d, time.Minute)
		assert.LessOrEqual(t, d, 2*time.Minute)
	})

	t.Run("defaults without hints", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Equal(t, defaultRateLimitDelay, retryDelay(resp))
	})
}
