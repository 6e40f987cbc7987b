package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// requestCmd represents the request command
var requestCmd = &cobra.Command{
	Use:   "request <channel> [message]",
	Short: "Send a request to a channel and print the response",
	Long: `Send a Request to a channel on an rxmsg server and print the response
payload as JSON. An error response is printed as "code: detail" and makes the
command fail.

Examples:
  rxmsg request echo '{"ping":1}'
  rxmsg request -s broker:7000 --timeout 5s time/now`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRequest,
}

var requestTimeout time.Duration

func init() {
	rootCmd.AddCommand(requestCmd)

	addClientFlags(requestCmd)
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "Time to wait for the response")
}

func runRequest(cmd *cobra.Command, args []string) error {
	c, logger, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	channel := args[0]
	var payload any
	if len(args) > 1 {
		payload = parsePayload(args[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		logger.Warn("Initial connection failed, retrying", zap.Error(err))
	}
	defer c.Disconnect(context.Background())

	resp, err := c.Request(ctx, channel, payload)
	if err != nil {
		var typed *wire.TypedError
		if errors.As(err, &typed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", typed.Code, typed.Detail)
		}
		return fmt.Errorf("request failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), formatPayload(resp.Payload))
	return nil
}
