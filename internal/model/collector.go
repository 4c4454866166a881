package model

// UserCollector deduplicates the users referenced by a batch of records so
// each unique account is written at most once, no matter how many records
// mention it. Collectors are scoped per step invocation.
type UserCollector struct {
	seen  map[int64]struct{}
	users []User
}

func NewUserCollector() *UserCollector {
	return &UserCollector{seen: map[int64]struct{}{}}
}

// Add records a user once by GithubID. Zero IDs (absent authors) are skipped.
func (c *UserCollector) Add(u User) {
	if u.GithubID == 0 {
		return
	}
	if _, ok := c.seen[u.GithubID]; ok {
		return
	}
	c.seen[u.GithubID] = struct{}{}
	c.users = append(c.users, u)
}

// Users returns the deduplicated users in first-seen order.
func (c *UserCollector) Users() []User { return c.users }

func (c *UserCollector) Len() int { return len(c.users) }
