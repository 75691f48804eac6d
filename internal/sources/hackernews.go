package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/replyradar/internal/querycache"
	"github.com/replyradar/pkg/models"
)

// HackerNewsDefaults are applied to zero HackerNewsAdapter options.
var HackerNewsDefaults = Options{
	BaseURL:   "https://hn.algolia.com",
	UserAgent: defaultUserAgent,
	Recency:   72 * time.Hour,
	CacheTTL:  30 * time.Minute,
	Interval:  time.Second,
	Limit:     30,
	Timeout:   DefaultHTTPTimeout,
}

// HackerNewsAdapter searches stories and comments through the Algolia HN API.
type HackerNewsAdapter struct {
	opts   Options
	client *http.Client
	now    func() time.Time
	s      *searcher
}

func NewHackerNewsAdapter(opts Options, cache *querycache.Cache) *HackerNewsAdapter {
	opts = opts.withDefaults(HackerNewsDefaults)
	a := &HackerNewsAdapter{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		now:    time.Now,
	}
	a.s = newSearcher(models.PlatformHackerNews, opts, cache, a.fetch)
	return a
}

func (a *HackerNewsAdapter) Platform() models.Platform { return models.PlatformHackerNews }

func (a *HackerNewsAdapter) Search(ctx context.Context, queries []string) ([]models.RawFinding, error) {
	return a.s.search(ctx, queries)
}

type hnResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	StoryTitle  string `json:"story_title"`
	StoryText   string `json:"story_text"`
	CommentText string `json:"comment_text"`
	Author      string `json:"author"`
	CreatedAtI  int64  `json:"created_at_i"`
}

var htmlTag = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	s = strings.ReplaceAll(s, "<p>", "\n\n")
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
}

func (a *HackerNewsAdapter) fetch(ctx context.Context, query string) ([]models.RawFinding, error) {
	v := url.Values{}
	v.Set("query", query)
	v.Set("tags", "(story,comment)")
	v.Set("hitsPerPage", fmt.Sprint(a.opts.Limit))
	v.Set("numericFilters", fmt.Sprintf("created_at_i>%d", a.now().Add(-a.opts.Recency).Unix()))
	u := strings.TrimRight(a.opts.BaseURL, "/") + "/api/v1/search_by_date?" + v.Encode()

	resp, err := getJSON(ctx, a.client, u, a.opts.UserAgent)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body hnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode hn response: %w", err)
	}

	out := make([]models.RawFinding, 0, len(body.Hits))
	for _, h := range body.Hits {
		var content, thread string
		if h.CommentText != "" {
			content = stripHTML(h.CommentText)
			thread = h.StoryTitle
		} else {
			content = strings.TrimSpace(h.Title)
			if text := stripHTML(h.StoryText); text != "" {
				content += "\n\n" + text
			}
		}
		out = append(out, models.RawFinding{
			Platform:        models.PlatformHackerNews,
			ExternalID:      h.ObjectID,
			URL:             "https://news.ycombinator.com/item?id=" + h.ObjectID,
			AuthorName:      h.Author,
			AuthorHandle:    h.Author,
			Content:         content,
			ThreadContext:   thread,
			MatchedKeywords: []string{query},
			DiscoveredAt:    time.Unix(h.CreatedAtI, 0).UTC(),
		})
	}
	return out, nil
}
