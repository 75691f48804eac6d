package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/replyradar/internal/querycache"
	"github.com/replyradar/pkg/models"
)

// RedditDefaults are applied to zero RedditAdapter options.
var RedditDefaults = Options{
	BaseURL:   "https://www.reddit.com",
	UserAgent: defaultUserAgent,
	Recency:   24 * time.Hour,
	CacheTTL:  30 * time.Minute,
	Interval:  2 * time.Second,
	Limit:     25,
	Timeout:   DefaultHTTPTimeout,
}

// RedditAdapter searches Reddit's public JSON listing, optionally restricted to subreddits.
type RedditAdapter struct {
	opts       Options
	subreddits []string
	client     *http.Client
	s          *searcher
}

func NewRedditAdapter(opts Options, subreddits []string, cache *querycache.Cache) *RedditAdapter {
	opts = opts.withDefaults(RedditDefaults)
	a := &RedditAdapter{
		opts:       opts,
		subreddits: subreddits,
		client:     &http.Client{Timeout: opts.Timeout},
	}
	a.s = newSearcher(models.PlatformReddit, opts, cache, a.fetch)
	return a
}

func (a *RedditAdapter) Platform() models.Platform { return models.PlatformReddit }

func (a *RedditAdapter) Search(ctx context.Context, queries []string) ([]models.RawFinding, error) {
	return a.s.search(ctx, queries)
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	Stickied   bool    `json:"stickied"`
}

func (a *RedditAdapter) searchURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("sort", "new")
	v.Set("t", "day")
	v.Set("limit", fmt.Sprint(a.opts.Limit))
	path := "/search.json"
	if len(a.subreddits) > 0 {
		path = "/r/" + strings.Join(a.subreddits, "+") + "/search.json"
		v.Set("restrict_sr", "1")
	}
	return strings.TrimRight(a.opts.BaseURL, "/") + path + "?" + v.Encode()
}

func (a *RedditAdapter) fetch(ctx context.Context, query string) ([]models.RawFinding, error) {
	resp, err := getJSON(ctx, a.client, a.searchURL(query), a.opts.UserAgent)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}

	out := make([]models.RawFinding, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		p := c.Data
		if p.Stickied || p.Author == "[deleted]" {
			continue
		}
		id := p.Name
		if id == "" {
			id = p.ID
		}
		content := strings.TrimSpace(p.Title)
		if body := strings.TrimSpace(p.SelfText); body != "" {
			content += "\n\n" + body
		}
		out = append(out, models.RawFinding{
			Platform:        models.PlatformReddit,
			ExternalID:      id,
			URL:             "https://www.reddit.com" + p.Permalink,
			AuthorName:      p.Author,
			AuthorHandle:    "u/" + p.Author,
			Content:         content,
			ThreadContext:   "r/" + p.Subreddit,
			MatchedKeywords: []string{query},
			DiscoveredAt:    time.Unix(int64(p.CreatedUTC), 0).UTC(),
		})
	}
	return out, nil
}
