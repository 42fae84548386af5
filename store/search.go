package store

import (
	"context"
	"strings"

	"github.com/mjl-/bstore"
)

// SearchQuery filters messages for listing. Matching is case-insensitive.
// Patterns without "*" match as substring; with "*" they match anchored, with
// each "*" standing for any text (SQL LIKE style).
type SearchQuery struct {
	OwnerID        int64  // Restrict to one mailbox. 0 for all.
	Folder         string // "received", "sent" or "" for both.
	TitleMatches   string // Pattern against title.
	MessageMatches string // Pattern against title or body.
}

// Search returns the active messages matching the query, newest first.
func Search(ctx context.Context, sq SearchQuery) ([]Message, error) {
	db, err := database(ctx)
	if err != nil {
		return nil, err
	}
	q := bstore.QueryDB[Message](ctx, db)
	q.FilterEqual("IsDeleted", false)
	if sq.OwnerID != 0 {
		q.FilterEqual("OwnerID", sq.OwnerID)
	}
	switch sq.Folder {
	case "received":
		q.FilterFn(func(m Message) bool { return m.OwnerID == m.ToID })
	case "sent":
		q.FilterFn(func(m Message) bool { return m.OwnerID == m.FromID })
	}
	if sq.TitleMatches != "" {
		p := sq.TitleMatches
		q.FilterFn(func(m Message) bool { return matchPattern(p, m.Title) })
	}
	if sq.MessageMatches != "" {
		p := sq.MessageMatches
		q.FilterFn(func(m Message) bool { return matchPattern(p, m.Title) || matchPattern(p, m.Body) })
	}
	q.SortDesc("ID")
	return q.List()
}

// matchPattern matches s against a case-insensitive pattern. Without
// wildcards the pattern matches anywhere in s. With "*" wildcards, the
// pattern is anchored at both ends and each "*" matches any text.
func matchPattern(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)
	if !strings.Contains(pattern, "*") {
		return strings.Contains(s, pattern)
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			continue
		}
		i := strings.Index(s, p)
		if i < 0 {
			return false
		}
		s = s[i+len(p):]
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(s, last)
}
