// internal/github/translate_test.go
package github

import (
	"testing"
	"time"

	gh "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-org-mirror/internal/model"
)

func TestTranslatePulls(t *testing.T) {
	now := time.Now()
	merged := &gh.PullRequest{
		ID:        gh.Int64(900),
		Number:    gh.Int(5),
		State:     gh.String("closed"),
		Title:     gh.String("Add widgets"),
		User:      &gh.User{ID: gh.Int64(77), Login: gh.String("octocat")},
		Head:      &gh.PullRequestBranch{SHA: gh.String("headsha"), Ref: gh.String("feature")},
		Base:      &gh.PullRequestBranch{Ref: gh.String("main")},
		MergedAt:  &gh.Timestamp{Time: now},
		UpdatedAt: &gh.Timestamp{Time: now},
	}
	open := &gh.PullRequest{
		ID:        gh.Int64(901),
		Number:    gh.Int(6),
		State:     gh.String("open"),
		UpdatedAt: &gh.Timestamp{Time: now},
	}

	users := model.NewUserCollector()
	out := TranslatePulls(7, []*gh.PullRequest{merged, open}, users)
	require.Len(t, out, 2)

	assert.True(t, out[0].Merged)
	require.NotNil(t, out[0].MergedAt)
	assert.Equal(t, now, *out[0].MergedAt)
	require.NotNil(t, out[0].AuthorID)
	assert.Equal(t, int64(77), *out[0].AuthorID)
	assert.Equal(t, "headsha", out[0].HeadSHA)

	assert.False(t, out[1].Merged)
	assert.Nil(t, out[1].MergedAt)
	assert.Nil(t, out[1].AuthorID)

	require.Len(t, users.Users(), 1)
	assert.Equal(t, "octocat", users.Users()[0].Login)
}
