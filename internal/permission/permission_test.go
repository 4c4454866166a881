package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github-org-mirror/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestEvaluate(t *testing.T) {
	t.Run("anonymous on public repo gets implicit pull", func(t *testing.T) {
		d := Evaluate(Input{IsPrivate: false, Required: LevelPull})
		assert.True(t, d.IsAllowed)
		assert.Equal(t, LevelPull, d.Actual)
	})

	t.Run("anonymous on private repo is denied not_authenticated", func(t *testing.T) {
		d := Evaluate(Input{IsPrivate: true, Required: LevelPull})
		assert.False(t, d.IsAllowed)
		assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	})

	t.Run("anonymous denied when authentication is required", func(t *testing.T) {
		d := Evaluate(Input{IsPrivate: false, Required: LevelPull, RequireAuthenticated: true})
		assert.False(t, d.IsAllowed)
		assert.Equal(t, ReasonNotAuthenticated, d.Reason)
	})

	t.Run("anonymous cannot reach levels above pull", func(t *testing.T) {
		d := Evaluate(Input{IsPrivate: false, Required: LevelPush})
		assert.False(t, d.IsAllowed)
		assert.Equal(t, ReasonInsufficientPermission, d.Reason)
	})

	t.Run("push row satisfies triage", func(t *testing.T) {
		row := &model.PermissionRow{Pull: true, Triage: true, Push: true}
		d := Evaluate(Input{UserID: ptr(7), Row: row, IsPrivate: true, Required: LevelTriage})
		assert.True(t, d.IsAllowed)
		assert.Equal(t, LevelPush, d.Actual)
	})

	t.Run("push row does not satisfy admin", func(t *testing.T) {
		row := &model.PermissionRow{Pull: true, Triage: true, Push: true}
		d := Evaluate(Input{UserID: ptr(7), Row: row, IsPrivate: true, Required: LevelAdmin})
		assert.False(t, d.IsAllowed)
		assert.Equal(t, ReasonInsufficientPermission, d.Reason)
		assert.Equal(t, LevelPush, d.Actual)
	})

	t.Run("user without row falls back to implicit pull on public repo", func(t *testing.T) {
		d := Evaluate(Input{UserID: ptr(7), IsPrivate: false, Required: LevelPull})
		assert.True(t, d.IsAllowed)
		assert.Equal(t, LevelPull, d.Actual)
	})

	t.Run("user without row is denied on private repo", func(t *testing.T) {
		d := Evaluate(Input{UserID: ptr(7), IsPrivate: true, Required: LevelPull})
		assert.False(t, d.IsAllowed)
		assert.Equal(t, ReasonInsufficientPermission, d.Reason)
	})
}

func TestHighestLevel(t *testing.T) {
	assert.Equal(t, LevelNone, HighestLevel(nil))
	assert.Equal(t, LevelPull, HighestLevel(&model.PermissionRow{Pull: true}))
	assert.Equal(t, LevelAdmin, HighestLevel(&model.PermissionRow{Pull: true, Admin: true}))
	assert.Equal(t, LevelMaintain, HighestLevel(&model.PermissionRow{Pull: true, Push: true, Maintain: true}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelPush, ParseLevel("write"))
	assert.Equal(t, LevelPull, ParseLevel("read"))
	assert.Equal(t, LevelNone, ParseLevel("owner"))
	assert.True(t, LevelAdmin.Satisfies(LevelPull))
	assert.False(t, LevelTriage.Satisfies(LevelPush))
}
