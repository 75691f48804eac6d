package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/replyradar/internal/querycache"
	"github.com/replyradar/pkg/models"
)

// ForumDefaults are applied to zero ForumAdapter options.
var ForumDefaults = Options{
	UserAgent: defaultUserAgent,
	Recency:   7 * 24 * time.Hour,
	CacheTTL:  2 * time.Hour,
	Interval:  3 * time.Second,
	Limit:     20,
	Timeout:   DefaultHTTPTimeout,
}

// ForumSelectors describe where a forum's search result page keeps each field. The defaults
// match Discourse's server-rendered search page.
type ForumSelectors struct {
	SearchPath string `koanf:"search_path"`
	Item       string `koanf:"item"`
	Title      string `koanf:"title"`
	Body       string `koanf:"body"`
	Link       string `koanf:"link"`
	Author     string `koanf:"author"`
	Time       string `koanf:"time"`
}

var DefaultForumSelectors = ForumSelectors{
	SearchPath: "/search?q=%s",
	Item:       ".fps-result",
	Title:      ".search-link .topic-title",
	Body:       ".blurb",
	Link:       "a.search-link",
	Author:     ".author a",
	Time:       ".relative-date",
}

// ForumAdapter scrapes a forum search page.
type ForumAdapter struct {
	opts   Options
	sel    ForumSelectors
	client *http.Client
	now    func() time.Time
	s      *searcher
}

func NewForumAdapter(opts Options, sel ForumSelectors, cache *querycache.Cache) *ForumAdapter {
	opts = opts.withDefaults(ForumDefaults)
	if sel.SearchPath == "" {
		sel.SearchPath = DefaultForumSelectors.SearchPath
	}
	if sel.Item == "" {
		sel = ForumSelectors{SearchPath: sel.SearchPath, Item: DefaultForumSelectors.Item,
			Title: DefaultForumSelectors.Title, Body: DefaultForumSelectors.Body, Link: DefaultForumSelectors.Link,
			Author: DefaultForumSelectors.Author, Time: DefaultForumSelectors.Time}
	}
	a := &ForumAdapter{
		opts:   opts,
		sel:    sel,
		client: &http.Client{Timeout: opts.Timeout},
		now:    time.Now,
	}
	a.s = newSearcher(models.PlatformForum, opts, cache, a.fetch)
	return a
}

func (a *ForumAdapter) Platform() models.Platform { return models.PlatformForum }

func (a *ForumAdapter) Search(ctx context.Context, queries []string) ([]models.RawFinding, error) {
	if a.opts.BaseURL == "" {
		return nil, fmt.Errorf("forum adapter: base_url is not configured")
	}
	return a.s.search(ctx, queries)
}

func (a *ForumAdapter) fetch(ctx context.Context, query string) ([]models.RawFinding, error) {
	base := strings.TrimRight(a.opts.BaseURL, "/")
	pageURL := base + fmt.Sprintf(a.sel.SearchPath, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.opts.UserAgent)
	req.Header.Set("Accept", "text/html")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, URL: pageURL}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse forum page: %w", err)
	}

	var out []models.RawFinding
	doc.Find(a.sel.Item).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if len(out) >= a.opts.Limit {
			return false
		}
		href, _ := item.Find(a.sel.Link).First().Attr("href")
		if href == "" {
			return true
		}
		link := resolveURL(base, href)
		title := collapseSpace(item.Find(a.sel.Title).First().Text())
		body := collapseSpace(item.Find(a.sel.Body).First().Text())
		content := title
		if body != "" {
			content = strings.TrimSpace(title + "\n\n" + body)
		}
		author := collapseSpace(item.Find(a.sel.Author).First().Text())

		out = append(out, models.RawFinding{
			Platform:        models.PlatformForum,
			ExternalID:      forumExternalID(link),
			URL:             link,
			AuthorName:      author,
			AuthorHandle:    author,
			Content:         content,
			ThreadContext:   title,
			MatchedKeywords: []string{query},
			DiscoveredAt:    a.parseTime(item.Find(a.sel.Time).First()),
		})
		return true
	})
	return out, nil
}

// parseTime reads a datetime attribute (RFC 3339) or a data-time attribute (unix millis).
// Results without a timestamp are treated as just seen.
func (a *ForumAdapter) parseTime(s *goquery.Selection) time.Time {
	if v, ok := s.Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	if v, ok := s.Attr("data-time"); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return a.now().UTC()
}

func resolveURL(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return href
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

// forumExternalID drops query and fragment so the same topic links collapse to one id.
func forumExternalID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
