package feed

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const endpointFeed = "feed"

var (
	statusIDPattern = regexp.MustCompile(`status/(\d+)`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// RSSConfig holds parameters for the RSS feed source.
type RSSConfig struct {
	URLTemplate string
	Timeout     time.Duration
	UserAgent   string
}

// RSSSource fetches account timelines from an RSS bridge such as RSSHub.
type RSSSource struct {
	urls   *URLBuilder
	parser *gofeed.Parser
	log    zerolog.Logger
}

// NewRSSSource builds an RSSSource from cfg.
func NewRSSSource(cfg RSSConfig, log zerolog.Logger) (*RSSSource, error) {
	urls, err := NewURLBuilder(cfg.URLTemplate)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &RSSSource{
		urls:   urls,
		parser: parser,
		log:    log.With().Str("component", "feed").Logger(),
	}, nil
}

// Fetch returns the posts in the account's feed that link to a status id.
// Entries without a status id are dropped.
func (s *RSSSource) Fetch(ctx context.Context, account string) ([]Post, error) {
	feedURL, err := s.urls.URL(account)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	parsed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	metrics.APIDuration.WithLabelValues(endpointFeed).Observe(time.Since(start).Seconds())
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			metrics.APICalls.WithLabelValues(endpointFeed, fmt.Sprintf("%dxx", httpErr.StatusCode/100)).Inc()
		} else {
			metrics.APICalls.WithLabelValues(endpointFeed, "error").Inc()
		}
		return nil, fmt.Errorf("fetch feed for %s: %w", account, err)
	}
	metrics.APICalls.WithLabelValues(endpointFeed, "2xx").Inc()

	posts := make([]Post, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		id := statusID(item.Link)
		if id == "" {
			id = statusID(item.GUID)
		}
		if id == "" {
			s.log.Debug().Str("account", account).Str("link", item.Link).Msg("skipping entry without status id")
			continue
		}
		p := Post{
			ID:      id,
			Title:   cleanText(item.Title),
			Content: cleanText(firstNonEmpty(item.Description, item.Content)),
			Link:    item.Link,
		}
		if item.PublishedParsed != nil {
			p.Published = item.PublishedParsed.UTC()
		}
		posts = append(posts, p)
	}
	s.log.Debug().Str("account", account).Int("entries", len(parsed.Items)).Int("posts", len(posts)).
		Msg("feed fetched")
	return posts, nil
}

func statusID(link string) string {
	m := statusIDPattern.FindStringSubmatch(link)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// cleanText strips markup and collapses whitespace.
func cleanText(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
