package cmd

import (
	"github.com/spf13/cobra"
)

// Version is reported to tracing and metrics providers. Set with -ldflags.
var Version = "dev"

var (
	verbose     bool
	debug       bool
	logLevel    string
	configPaths []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rxmsg",
	Short: "rxmsg channel messaging server and client",
	Long: `rxmsg is a lightweight messaging layer over TCP or TLS.

Clients send data, make requests and subscribe to named channels on a
server. Connections reconnect automatically and messages sent while
disconnected are queued until the connection is back.

Servers and clients are configured with HCL (HashiCorp Configuration
Language) files.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", nil, "config files or directories (client commands read the client block)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetDebug returns the debug flag value
func GetDebug() bool {
	return debug
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
