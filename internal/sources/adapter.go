// Package sources contains the platform search adapters. Each adapter turns a list of query
// strings into normalized, filtered findings.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/querycache"
	"github.com/replyradar/internal/retry"
	"github.com/replyradar/pkg/models"
)

// DefaultHTTPTimeout bounds every upstream request.
const DefaultHTTPTimeout = 30 * time.Second

// Adapter searches one platform.
type Adapter interface {
	Platform() models.Platform
	// Search returns findings for queries. A failing query is logged and skipped; the error
	// return is reserved for failures that make the whole adapter unusable, including every
	// query failing.
	Search(ctx context.Context, queries []string) ([]models.RawFinding, error)
}

// Options are the knobs shared by all adapters.
type Options struct {
	BaseURL   string        `koanf:"base_url"`
	UserAgent string        `koanf:"user_agent"`
	Recency   time.Duration `koanf:"recency"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
	// Interval is the minimum spacing between upstream calls of one adapter.
	Interval time.Duration `koanf:"interval"`
	Limit    int           `koanf:"limit"`
	Timeout  time.Duration `koanf:"timeout"`
	// Retries is the number of extra attempts for a transient upstream failure. Negative disables.
	Retries int `koanf:"retries"`
}

func (o Options) withDefaults(d Options) Options {
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Recency <= 0 {
		o.Recency = d.Recency
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Limit <= 0 {
		o.Limit = d.Limit
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

const defaultUserAgent = "replyradar/1.0 (+https://github.com/replyradar)"

// fetchFunc performs one upstream query.
type fetchFunc func(ctx context.Context, query string) ([]models.RawFinding, error)

// searcher implements the query loop every adapter shares: cache lookup, pacing, per-query
// error isolation, recency window, low-value filter and in-adapter dedup.
type searcher struct {
	platform models.Platform
	opts     Options
	cache    *querycache.Cache
	limiter  *rate.Limiter
	retry    retry.RetryConfig
	now      func() time.Time
	fetch    fetchFunc
}

func newSearcher(platform models.Platform, opts Options, cache *querycache.Cache, fetch fetchFunc) *searcher {
	rc := retry.SourceRetryConfig()
	switch {
	case opts.Retries < 0:
		rc.MaxRetries = 0
	case opts.Retries > 0:
		rc.MaxRetries = opts.Retries
	}
	return &searcher{
		platform: platform,
		opts:     opts,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Every(opts.Interval), 1),
		retry:    rc,
		now:      time.Now,
		fetch:    fetch,
	}
}

func (s *searcher) search(ctx context.Context, queries []string) ([]models.RawFinding, error) {
	byID := make(map[string]*models.RawFinding)
	var order []string
	cutoff := s.now().Add(-s.opts.Recency)
	platform := string(s.platform)
	var attempted, failed int
	var lastErr error

	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return collect(byID, order), err
		}

		attempted++
		results, err := s.runQuery(ctx, q)
		if err != nil {
			failed++
			lastErr = err
			metrics.SourceQueries.WithLabelValues(platform, "error").Inc()
			log.Warn().Err(err).Str("platform", platform).Str("query", q).Msg("source query failed, skipping")
			continue
		}

		for i := range results {
			f := results[i]
			if f.ExternalID == "" || f.DiscoveredAt.Before(cutoff) || IsLowValue(f.Content) {
				continue
			}
			if existing, ok := byID[f.ExternalID]; ok {
				existing.MatchedKeywords = mergeKeywords(existing.MatchedKeywords, f.MatchedKeywords)
				continue
			}
			f.Platform = s.platform
			f.MatchedKeywords = mergeKeywords(nil, f.MatchedKeywords)
			byID[f.ExternalID] = &f
			order = append(order, f.ExternalID)
		}
	}

	out := collect(byID, order)
	metrics.SourceFindings.WithLabelValues(platform).Add(float64(len(out)))
	if attempted > 0 && failed == attempted {
		return out, fmt.Errorf("all %d queries failed: %w", failed, lastErr)
	}
	return out, nil
}

func (s *searcher) runQuery(ctx context.Context, q string) ([]models.RawFinding, error) {
	load := func(ctx context.Context) (any, error) {
		var res []models.RawFinding
		logger := log.With().Str("platform", string(s.platform)).Str("query", q).Logger()
		result := retry.Do(ctx, s.retry, &logger, func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			res, err = s.fetch(ctx, q)
			return err
		})
		if !result.Success {
			return nil, result.LastError
		}
		metrics.SourceQueries.WithLabelValues(string(s.platform), "ok").Inc()
		return res, nil
	}

	if s.cache == nil {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return v.([]models.RawFinding), nil
	}

	key := querycache.Key(string(s.platform), q)
	if v, ok := s.cache.Get(key); ok {
		metrics.SourceQueries.WithLabelValues(string(s.platform), "cached").Inc()
		return v.([]models.RawFinding), nil
	}
	v, err := s.cache.GetOrLoad(ctx, key, s.opts.CacheTTL, load)
	if err != nil {
		return nil, err
	}
	return v.([]models.RawFinding), nil
}

func collect(byID map[string]*models.RawFinding, order []string) []models.RawFinding {
	out := make([]models.RawFinding, 0, len(order))
	for _, id := range order {
		f := *byID[id]
		f.MatchedKeywords = append([]string(nil), f.MatchedKeywords...)
		out = append(out, f)
	}
	return out
}

func mergeKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string(nil), a...), b...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// getJSON issues a GET with the adapter user agent and returns the response for 2xx.
func getJSON(ctx context.Context, client *http.Client, url, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	return resp, nil
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %s returned HTTP %d", e.URL, e.Status)
}

func (e *HTTPError) StatusCode() int { return e.Status }
