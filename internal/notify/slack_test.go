package notify

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
)

type fakeSlackAPI struct {
	calls int
	err   error
	last  []slack.MsgOption
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.last = options
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1724400000.000100", nil
}

func TestAnnounceReturnsThreadHandle(t *testing.T) {
	api := &fakeSlackAPI{}
	n := &SlackNotifier{api: api, channel: "C123"}

	ts := n.Announce(context.Background(), "collection started")
	assert.Equal(t, "1724400000.000100", ts)
	assert.Equal(t, 1, api.calls)
}

func TestAnnounceSwallowsDeliveryFailure(t *testing.T) {
	api := &fakeSlackAPI{err: errors.New("channel_not_found")}
	n := &SlackNotifier{api: api, channel: "C123"}

	ts := n.Announce(context.Background(), "collection started")
	assert.Empty(t, ts)
}

func TestReplyThreading(t *testing.T) {
	api := &fakeSlackAPI{}
	n := &SlackNotifier{api: api, channel: "C123"}

	n.Reply(context.Background(), "1724400000.000100", "period done")
	assert.Equal(t, 1, api.calls)
	assert.Len(t, api.last, 2, "text plus thread option")

	// Without a handle the reply degrades to a top-level message.
	n.Reply(context.Background(), "", "period done")
	assert.Equal(t, 2, api.calls)
	assert.Len(t, api.last, 1)
}

func TestNopNotifier(t *testing.T) {
	n := NopNotifier{}
	assert.Empty(t, n.Announce(context.Background(), "x"))
	n.Reply(context.Background(), "", "x")
}
