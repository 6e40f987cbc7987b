package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/rxmsg/pkg/rxmsg/client"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <channel> [channels...]",
	Short: "Subscribe to channels on an rxmsg server",
	Long: `Subscribe to channels on an rxmsg server and print every message to
stdout as "channel<TAB>json", until interrupted.

Examples:
  rxmsg subscribe news
  rxmsg subscribe -s broker:7000 sensors/temperature sensors/humidity`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubscribe,
}

func init() {
	rootCmd.AddCommand(subscribeCmd)

	addClientFlags(subscribeCmd)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	c, logger, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		logger.Warn("Initial connection failed, retrying", zap.Error(err))
	}

	if err := subscribeAll(ctx, c, args, cmd.OutOrStdout(), logger); err != nil {
		c.Disconnect(context.Background())
		return err
	}

	logger.Info("Listening for messages... (Press Ctrl+C to exit)")
	<-ctx.Done()

	logger.Debug("Signal received, exiting")
	if err := c.Disconnect(context.Background()); err != nil {
		logger.Warn("Error during client disconnect", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// subscribeAll subscribes to every channel and prints what arrives on out.
func subscribeAll(ctx context.Context, c *client.Client, channels []string, out io.Writer, logger *zap.Logger) error {
	for _, channel := range channels {
		f, err := c.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		f.Subscribe(func(m wire.Message) {
			fmt.Fprintf(out, "%s\t%s\n", m.ChannelName(), formatPayload(m.Payload))
		})
		logger.Info("Subscribed to channel", zap.String("channel", channel))
	}
	return nil
}
