package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserCollector(t *testing.T) {
	c := NewUserCollector()
	c.Add(User{GithubID: 1, Login: "alice"})
	c.Add(User{GithubID: 2, Login: "bob"})
	c.Add(User{GithubID: 1, Login: "alice"})
	c.Add(User{}) // absent author

	assert.Equal(t, 2, c.Len())
	users := c.Users()
	assert.Equal(t, "alice", users[0].Login)
	assert.Equal(t, "bob", users[1].Login)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "inst:42:repo:7", LockKey(42, 7))
}

func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobDone.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.False(t, JobRetry.Terminal())
}
