// Package ingest persists source findings as discovered posts.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/metrics"
	"github.com/replyradar/internal/store"
	"github.com/replyradar/pkg/models"
)

// Result summarises one Ingest call.
type Result struct {
	Received   int `json:"received"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

type Ingester struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Ingester {
	return &Ingester{store: s, now: time.Now}
}

// Ingest stores findings keyed by (platform, external id). Existing posts are never modified,
// so repeating a batch is a no-op. Findings sharing a key within the batch collapse to one
// with their keywords merged. A failing row is counted and skipped.
func (i *Ingester) Ingest(ctx context.Context, findings []models.RawFinding) (Result, error) {
	res := Result{Received: len(findings)}
	posts, invalid := collapse(findings)
	res.Failed = invalid

	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.DiscoveredAt.IsZero() {
			p.DiscoveredAt = i.now()
		}
		inserted, err := i.store.InsertPostIfAbsent(ctx, p)
		switch {
		case err != nil:
			res.Failed++
			metrics.PostsIngested.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("platform", string(p.Platform)).Str("external_id", p.ExternalID).Msg("failed to insert post")
		case inserted:
			res.Inserted++
			metrics.PostsIngested.WithLabelValues("inserted").Inc()
		default:
			res.Duplicates++
			metrics.PostsIngested.WithLabelValues("duplicate").Inc()
		}
	}
	res.Duplicates += len(findings) - len(posts) - invalid

	if len(posts) > 0 && res.Inserted == 0 && res.Duplicates == 0 {
		return res, fmt.Errorf("all %d posts failed to persist", len(posts))
	}
	return res, nil
}

// collapse merges same-key findings and reports how many lacked a key.
func collapse(findings []models.RawFinding) ([]*models.DiscoveredPost, int) {
	type key struct {
		platform models.Platform
		id       string
	}
	byKey := make(map[key]*models.DiscoveredPost, len(findings))
	out := make([]*models.DiscoveredPost, 0, len(findings))
	invalid := 0
	for _, f := range findings {
		if f.ExternalID == "" || f.Platform == "" {
			invalid++
			continue
		}
		k := key{f.Platform, f.ExternalID}
		if p, ok := byKey[k]; ok {
			p.MatchedKeywords = appendUnique(p.MatchedKeywords, f.MatchedKeywords...)
			continue
		}
		p := &models.DiscoveredPost{
			Platform:        f.Platform,
			ExternalID:      f.ExternalID,
			URL:             f.URL,
			AuthorName:      f.AuthorName,
			AuthorHandle:    f.AuthorHandle,
			Content:         f.Content,
			ThreadContext:   f.ThreadContext,
			MatchedKeywords: appendUnique(nil, f.MatchedKeywords...),
			Status:          models.PostStatusNew,
			DiscoveredAt:    f.DiscoveredAt,
		}
		byKey[k] = p
		out = append(out, p)
	}
	return out, invalid
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
