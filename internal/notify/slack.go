package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

const (
	slackUsername = "Duplicates Checker"
	slackIcon     = ":warning:"
)

// Slacker posts alerts to a chat webhook. The payload is
// {text, username, icon_emoji}; anything but HTTP 200 is a delivery error.
type Slacker struct {
	WebhookURL string
}

func NewSlacker(webhookURL string) *Slacker {
	return &Slacker{WebhookURL: webhookURL}
}

func (s *Slacker) Notify(ctx context.Context, subject, body string) error {
	msg := &slack.WebhookMessage{
		Text:      fmt.Sprintf("%s\n%s", subject, body),
		Username:  slackUsername,
		IconEmoji: slackIcon,
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("posting chat alert: %w", err)
	}
	return nil
}
