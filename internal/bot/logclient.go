package bot

import (
	"context"

	"go.uber.org/zap"
)

// LoggingClient logs would-be replies instead of posting them. The dry-run
// client for local runs without platform credentials.
type LoggingClient struct {
	log *zap.SugaredLogger
}

var _ Client = &LoggingClient{}

func NewLoggingClient() *LoggingClient {
	return &LoggingClient{log: zap.S().Named("client.dryrun")}
}

func (c *LoggingClient) Reply(ctx context.Context, parentFullname string, text string) error {
	c.log.Infow("would reply", "parent", parentFullname, "text", text)
	return nil
}

func (c *LoggingClient) ReplyToMessage(ctx context.Context, messageID string, text string) error {
	c.log.Infow("would answer message", "message_id", messageID, "text", text)
	return nil
}

func (c *LoggingClient) IsModerator(ctx context.Context, user, subreddit string) (bool, error) {
	c.log.Infow("would check moderator status", "user", user, "subreddit", subreddit)
	return false, nil
}
