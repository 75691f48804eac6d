package autopilot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/replyradar/internal/notify"
	"github.com/replyradar/pkg/models"
)

// Sender delivers an approved reply. A returned error leaves the item approved.
type Sender interface {
	Publish(ctx context.Context, post *models.DiscoveredPost, content string) error
}

// ManualSender records the send and leaves delivery to a human.
type ManualSender struct{}

func (ManualSender) Publish(_ context.Context, post *models.DiscoveredPost, content string) error {
	log.Info().
		Str("post_id", post.ID).
		Str("platform", string(post.Platform)).
		Str("url", post.URL).
		Int("chars", len(content)).
		Msg("reply ready for manual posting")
	return nil
}

// NotifySender forwards the reply text to the notification channel for copy-paste delivery.
type NotifySender struct {
	Notifier notify.Notifier
}

func (n NotifySender) Publish(ctx context.Context, post *models.DiscoveredPost, content string) error {
	n.Notifier.Notify(ctx, notify.Message{
		Kind:  notify.KindReplyReady,
		Title: fmt.Sprintf("Reply ready for %s", post.Platform),
		Text:  content,
		URL:   post.URL,
		Fields: []notify.Field{
			{Title: "Author", Value: post.AuthorHandle},
		},
	})
	return ManualSender{}.Publish(ctx, post, content)
}
