// Package permission implements the access decision function used by every
// read and write path. It is pure: callers load the cached permission row and
// repository visibility, the evaluator only decides.
package permission

import "github-org-mirror/internal/model"

// Level is a repository access level. Levels are totally ordered; a higher
// level implies all lower ones.
type Level int

const (
	LevelNone Level = iota
	LevelPull
	LevelTriage
	LevelPush
	LevelMaintain
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelNone:     "none",
	LevelPull:     "pull",
	LevelTriage:   "triage",
	LevelPush:     "push",
	LevelMaintain: "maintain",
	LevelAdmin:    "admin",
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel maps a level name to its Level. Unknown names map to LevelNone.
func ParseLevel(s string) Level {
	switch s {
	case "pull", "read":
		return LevelPull
	case "triage":
		return LevelTriage
	case "push", "write":
		return LevelPush
	case "maintain":
		return LevelMaintain
	case "admin":
		return LevelAdmin
	}
	return LevelNone
}

// Satisfies reports whether l grants at least required.
func (l Level) Satisfies(required Level) bool { return l >= required }

// Reason explains a denial.
type Reason string

const (
	ReasonAllowed                Reason = ""
	ReasonNotAuthenticated       Reason = "not_authenticated"
	ReasonInsufficientPermission Reason = "insufficient_permission"
)

// Decision is the evaluator's result.
type Decision struct {
	IsAllowed bool
	Reason    Reason
	Actual    Level
}

// Input carries everything the evaluator needs. UserID nil means anonymous.
// Row is the cached permission row for (user, repository), nil when absent.
type Input struct {
	UserID               *int64
	Row                  *model.PermissionRow
	IsPrivate            bool
	Required             Level
	RequireAuthenticated bool
}

// HighestLevel computes the strongest level granted by a permission row.
func HighestLevel(row *model.PermissionRow) Level {
	switch {
	case row == nil:
		return LevelNone
	case row.Admin:
		return LevelAdmin
	case row.Maintain:
		return LevelMaintain
	case row.Push:
		return LevelPush
	case row.Triage:
		return LevelTriage
	case row.Pull:
		return LevelPull
	}
	return LevelNone
}

// Evaluate applies the access rules in order:
//  1. authentication required and no user: deny not_authenticated
//  2. anonymous + public repo: implicit pull
//  3. permission row present: highest flag decides
//  4. no row + public repo: implicit pull fallback
//  5. otherwise deny
func Evaluate(in Input) Decision {
	if in.UserID == nil {
		if in.RequireAuthenticated || in.IsPrivate {
			return Decision{IsAllowed: false, Reason: ReasonNotAuthenticated, Actual: LevelNone}
		}
		if LevelPull.Satisfies(in.Required) {
			return Decision{IsAllowed: true, Actual: LevelPull}
		}
		return Decision{IsAllowed: false, Reason: ReasonInsufficientPermission, Actual: LevelPull}
	}

	if in.Row != nil {
		actual := HighestLevel(in.Row)
		if actual.Satisfies(in.Required) {
			return Decision{IsAllowed: true, Actual: actual}
		}
		return Decision{IsAllowed: false, Reason: ReasonInsufficientPermission, Actual: actual}
	}

	if !in.IsPrivate {
		if LevelPull.Satisfies(in.Required) {
			return Decision{IsAllowed: true, Actual: LevelPull}
		}
		return Decision{IsAllowed: false, Reason: ReasonInsufficientPermission, Actual: LevelPull}
	}

	return Decision{IsAllowed: false, Reason: ReasonInsufficientPermission, Actual: LevelNone}
}
