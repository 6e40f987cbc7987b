package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/rxmsg/pkg/rxmsg/config"
	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
	"github.com/tsarna/rxmsg/pkg/rxmsg/otel"
	"github.com/tsarna/rxmsg/pkg/rxmsg/prommetrics"
	"github.com/tsarna/rxmsg/pkg/rxmsg/server"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
	"go.uber.org/zap"
)

// ErrNoHandler is the error code returned for requests on channels that
// nothing answers.
const ErrNoHandler = "ENOHANDLER"

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the rxmsg server",
	Long: `Start the rxmsg server with the specified configuration files or directories.

The server loads HCL configuration files from the specified paths. Data sent
by clients is relayed to the subscribers of its channel, and requests on the
configured echo channels are answered with their own payload.

Examples:
  rxmsg server server.hcl
  rxmsg server ./configs/
  rxmsg server base.hcl tls.hcl ./more-configs/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Setup logger
	logger, err := setupLogger(nil)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(stringSliceToAnySlice(args)...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return diags
	}

	if cfg.Logging != nil {
		if logger, err = setupLogger(cfg.Logging); err != nil {
			return fmt.Errorf("failed to setup logger: %w", err)
		}
	}
	defer logger.Sync()

	logger.Info("Starting rxmsg server",
		zap.Strings("config-paths", args),
		zap.String("version", Version),
	)

	builder, diags := cfg.ServerBuilder(logger)
	if diags.HasErrors() {
		logger.Error("Invalid server configuration", zap.Any("diags", diags))
		return diags
	}

	obs := setupObservability(cfg.Metrics, logger)
	defer obs.shutdown(context.Background())

	srv, err := builder.
		WithMetrics(obs.metrics).
		WithTracing(obs.tracing).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	attachHandlers(srv, cfg.Server, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAddr(cfg.Server.Address()); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Debug("Signal received, shutting down")

	timeout, _ := cfg.ShutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Close(shutdownCtx); err != nil {
		logger.Warn("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// attachHandlers gives a standalone server its behaviour: Data is relayed to
// the channel's subscribers, requests on echo channels are answered with their
// payload and every other request gets an ENOHANDLER error.
func attachHandlers(srv *server.Server, def *config.ServerDefinition, logger *zap.Logger) {
	if def.RelayEnabled() {
		srv.Data().Subscribe(func(in server.Incoming) {
			channel := in.Message.ChannelName()
			if channel == "" {
				return
			}
			if err := srv.Publish(context.Background(), channel, in.Message.Payload); err != nil {
				logger.Debug("Relay incomplete", zap.String("channel", channel), zap.Error(err))
			}
		})
	}

	srv.Requests().Subscribe(func(r *server.IncomingRequest) {
		ctx := context.Background()
		channel := r.Message.ChannelName()

		var err error
		if slices.Contains(def.EchoChannels, channel) {
			err = r.Respond(ctx, r.Message.Payload)
		} else {
			err = r.RespondError(ctx, wire.ErrorData{
				Code:   ErrNoHandler,
				Detail: fmt.Sprintf("no handler for channel %q", channel),
			})
		}
		if err != nil {
			logger.Warn("Failed to respond", zap.String("channel", channel), zap.Error(err))
		}
	})
}

type observability struct {
	metrics  o11y.MetricsProvider
	tracing  o11y.TracingProvider
	shutdown func(context.Context)
}

// setupObservability picks the metrics provider from the metrics block and
// starts the Prometheus scrape endpoint when needed. Tracing always goes
// through the global OpenTelemetry tracer, which is a no-op unless the
// process installs an SDK.
func setupObservability(def *config.MetricsDefinition, logger *zap.Logger) *observability {
	serviceName := "rxmsg"
	if def != nil && def.ServiceName != "" {
		serviceName = def.ServiceName
	}
	otelProvider := otel.NewProvider(serviceName, Version)

	obs := &observability{
		tracing:  otelProvider,
		shutdown: func(context.Context) {},
	}
	if def == nil {
		return obs
	}

	switch def.Provider {
	case config.MetricsProviderOtel:
		obs.metrics = otelProvider

	case config.MetricsProviderPrometheus:
		provider := prommetrics.NewProvider(def.Namespace)
		obs.metrics = provider

		mux := http.NewServeMux()
		mux.Handle(def.MetricsPath(), provider.Handler())
		httpServer := &http.Server{Addr: def.Listen, Handler: mux}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics endpoint failed", zap.String("listen", def.Listen), zap.Error(err))
			}
		}()
		logger.Info("Serving metrics", zap.String("listen", def.Listen), zap.String("path", def.MetricsPath()))

		obs.shutdown = func(ctx context.Context) {
			if err := httpServer.Shutdown(ctx); err != nil {
				logger.Warn("Error stopping metrics endpoint", zap.Error(err))
			}
		}
	}

	return obs
}
