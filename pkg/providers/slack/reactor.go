package slack

import (
	"context"
	"log"

	slackapi "github.com/slack-go/slack"

	"agentwatch/internal"
	"agentwatch/pkg/watcher"
)

// reactor is the per-event capability over one thread. Posts land in the
// thread keyed by threadTS; for an unthreaded mention that key is the
// originating message's timestamp, so the first post starts the thread.
type reactor struct {
	api        *slackapi.Client
	channel    string
	threadTS   string
	identities []string
	logger     *log.Logger
	retry      internal.RetryConfig
}

func (r *reactor) LastComment(ctx context.Context) (*internal.Comment, error) {
	var msgs []slackapi.Message
	err := internal.WithRetry(ctx, r.retry, r.logger, "conversation replies", func() (bool, error) {
		var repErr error
		msgs, _, _, repErr = r.api.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
			ChannelID: r.channel,
			Timestamp: r.threadTS,
		})
		if repErr != nil {
			return isTransient(repErr), repErr
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	// The thread parent is not a reply; a single message means no comments
	// yet.
	if len(msgs) <= 1 {
		return nil, nil
	}
	last := msgs[len(msgs)-1]
	author := last.User
	if author == "" {
		author = last.BotID
	}
	return &internal.Comment{Body: last.Text, Author: author}, nil
}

func (r *reactor) PostComment(ctx context.Context, body string) (string, error) {
	var ts string
	err := internal.WithRetry(ctx, r.retry, r.logger, "post message", func() (bool, error) {
		var postErr error
		_, ts, postErr = r.api.PostMessageContext(ctx, r.channel,
			slackapi.MsgOptionText(body, false),
			slackapi.MsgOptionTS(r.threadTS),
		)
		if postErr != nil {
			return isTransient(postErr), postErr
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return ts, nil
}

func (r *reactor) IsBotAuthor(name string) bool {
	return watcher.MatchBotAuthor(r.identities, name)
}
