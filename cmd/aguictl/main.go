// Command aguictl inspects the gateway's event log.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agui-gateway/internal/config"
	natsclient "github.com/capitalize-ai/agui-gateway/internal/nats"
	"github.com/capitalize-ai/agui-gateway/pkg/logger"
)

var (
	natsURL  string
	tenantID string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "aguictl",
	Short: "Inspect recorded threads and runs",
	Long: `aguictl reads thread messages and run lifecycle events back from the
gateway's JetStream event log. Connection settings come from the same
environment and CONFIG_FILE the server uses; flags override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default: from config)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant ID the thread belongs to")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	_ = rootCmd.MarkPersistentFlagRequired("tenant")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger logs to stderr when verbose so stdout stays machine readable.
func newLogger() (*logger.Logger, error) {
	if !verbose {
		return logger.NewNop(), nil
	}
	return logger.NewDevelopment()
}

// connect opens the event log described by config and flags.
func connect(ctx context.Context) (*natsclient.StreamManager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if natsURL != "" {
		cfg.NATSURL = natsURL
	}

	log, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "aguictl",
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	closeFn := func() {
		client.Close()
		_ = log.Sync()
	}
	return natsclient.NewStreamManager(client), closeFn, nil
}
