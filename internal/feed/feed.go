package feed

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// Post is a single entry returned by a feed source.
type Post struct {
	ID        string
	Title     string
	Content   string
	Link      string
	Published time.Time
}

// Source fetches the recent posts of an account. It returns an error on
// transport or parse failure and never a partial result.
type Source interface {
	Fetch(ctx context.Context, account string) ([]Post, error)
}

// SortNewestFirst orders posts by numeric id, highest first. Ids that do not
// parse as numbers sort after numeric ones, in descending string order.
func SortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, aErr := strconv.ParseUint(posts[i].ID, 10, 64)
		b, bErr := strconv.ParseUint(posts[j].ID, 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a > b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return posts[i].ID > posts[j].ID
		}
	})
}

// Newest returns the post with the highest id.
func Newest(posts []Post) (Post, bool) {
	if len(posts) == 0 {
		return Post{}, false
	}
	sorted := append([]Post(nil), posts...)
	SortNewestFirst(sorted)
	return sorted[0], true
}

// NotNewer reports whether id is at or below mark. Both must be numeric
// status ids; otherwise the ids cannot be ordered and it returns false.
func NotNewer(id, mark string) bool {
	a, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseUint(mark, 10, 64)
	if err != nil {
		return false
	}
	return a <= b
}
