package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish <channel> <message>",
	Short: "Send a message to a channel on an rxmsg server",
	Long: `Send a Data message to a channel on an rxmsg server.

The first argument is the channel to send to.
The second argument is the message payload (JSON or plain text).

Examples:
  rxmsg publish sensors/temperature 25.5
  rxmsg publish -s broker:7000 user/login '{"user":"alice"}'
  rxmsg publish --config client.hcl system/alert "Server maintenance scheduled"`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

var publishTimeout time.Duration

func init() {
	rootCmd.AddCommand(publishCmd)

	addClientFlags(publishCmd)
	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 30*time.Second, "Total operation timeout")
}

func runPublish(cmd *cobra.Command, args []string) error {
	c, logger, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	channel := args[0]
	payload := parsePayload(args[1])

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		logger.Warn("Initial connection failed, retrying", zap.Error(err))
	}
	defer func() {
		if err := c.Disconnect(context.Background()); err != nil {
			logger.Warn("Error during client disconnect", zap.Error(err))
		}
	}()

	// Send returns once the frame is written, waiting out reconnects
	if err := c.Send(ctx, channel, payload); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Info("Message published", zap.String("channel", channel), zap.Any("message", payload))
	return nil
}
