package notify

import (
	"context"
	"log"

	"github.com/slack-go/slack"
)

// Notifier reports run events to an operator channel. Implementations are
// fire-and-forget: a delivery failure is logged and swallowed so it can
// never abort a collection run.
type Notifier interface {
	// Announce posts a top-level message and returns a thread handle for
	// grouping the run's follow-up messages, or "" when delivery failed.
	Announce(ctx context.Context, text string) string
	// Reply posts into the thread identified by threadTS; with an empty
	// handle it falls back to a top-level message.
	Reply(ctx context.Context, threadTS, text string)
}

// slackAPI is the slice of slack.Client the notifier uses, split out so
// tests can substitute a fake.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts run events to a single Slack channel, threading all
// of a run's messages under the start announcement.
type SlackNotifier struct {
	api     slackAPI
	channel string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
	}
}

func (n *SlackNotifier) Announce(ctx context.Context, text string) string {
	_, ts, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Slack announce failed: %v", err)
		return ""
	}
	return ts
}

func (n *SlackNotifier) Reply(ctx context.Context, threadTS, text string) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := n.api.PostMessageContext(ctx, n.channel, opts...); err != nil {
		log.Printf("Slack reply failed: %v", err)
	}
}

// NopNotifier is used when no Slack credentials are configured.
type NopNotifier struct{}

func (NopNotifier) Announce(ctx context.Context, text string) string { return "" }
func (NopNotifier) Reply(ctx context.Context, threadTS, text string) {}
