package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/client"
	"github.com/tsarna/rxmsg/pkg/rxmsg/config"
	"go.uber.org/zap"
)

// DefaultServerAddress is used by client commands when neither --server nor a
// client block names one.
const DefaultServerAddress = "localhost:7000"

var (
	serverAddress string
	dialTimeout   time.Duration
)

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serverAddress, "server", "s", "", "server address as host:port (default "+DefaultServerAddress+")")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "TCP dial timeout")
}

// newClient returns a client and the logger it writes to. The client block of
// any --config files supplies TLS, backoff and limits; --server overrides its
// address.
func newClient(cmd *cobra.Command) (*client.Client, *zap.Logger, error) {
	var (
		cfg     *config.Config
		builder *client.ClientBuilder
	)

	if len(configPaths) > 0 {
		c, diags := config.NewConfig().WithSources(stringSliceToAnySlice(configPaths)...).Build()
		if diags.HasErrors() {
			return nil, nil, diags
		}
		cfg = c
	}

	var logging *config.LoggingDefinition
	if cfg != nil {
		logging = cfg.Logging
	}
	logger, err := setupLogger(logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	if cfg != nil && cfg.Client != nil {
		b, diags := cfg.ClientBuilder(logger)
		if diags.HasErrors() {
			return nil, nil, diags
		}
		builder = b
		if cfg.Client.Reconnect == nil {
			builder.WithReconnect(backoff.Exponential(backoff.ExponentialOptions{}))
		}
	} else {
		builder = client.NewClient().
			WithLogger(logger).
			WithAddress(DefaultServerAddress).
			WithReconnect(backoff.Exponential(backoff.ExponentialOptions{}))
	}

	if serverAddress != "" {
		builder.WithAddress(serverAddress)
	}
	if cmd.Flags().Changed("dial-timeout") || cfg == nil || cfg.Client == nil {
		builder.WithDialTimeout(dialTimeout)
	}

	c, err := builder.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, logger, nil
}

// parsePayload reads a command line payload as JSON, falling back to the raw
// string when it is not valid JSON.
func parsePayload(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func formatPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<error marshaling JSON: %v>", err)
	}
	return string(b)
}
