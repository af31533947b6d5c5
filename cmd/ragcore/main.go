// Command ragcore runs the local RAG chat core: conversation turns, knowledge
// ingestion and search, directory watching and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ragcore/internal/config"
	"ragcore/internal/logging"
	"ragcore/internal/system"
	"ragcore/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ragcore",
	Short: "ragcore - local-first RAG chat core",
	Long: `ragcore answers chat messages with a local llama-server, grounding each
answer in a knowledge base of ingested documents.

Run "ragcore serve" to expose the HTTP API, or "ragcore chat" to talk to the
model from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.Dir, cfg.Logging.Settings()); err != nil {
			logger.Warn("File logging disabled", zap.Error(err))
		}
		logger.Debug("Configuration loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ragcore.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")

	rootCmd.AddCommand(
		chatCmd,
		sessionCmd,
		generateCmd,
		ingestCmd,
		searchCmd,
		deleteCmd,
		statsCmd,
		watchCmd,
		serveCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// bootSystem starts the core and logs components that came up degraded.
func bootSystem(ctx context.Context, opts system.BootOptions) (*system.System, error) {
	sys, err := system.Boot(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if sys.StoreErr != nil {
		logger.Warn("Conversation store unavailable", zap.Error(sys.StoreErr))
	}
	return sys, nil
}

func closeSystem(sys *system.System) {
	if err := sys.Close(); err != nil {
		logger.Warn("Shutdown finished with errors", zap.Error(err))
	}
}

// requireSessions fails when the conversation store did not open.
func requireSessions(sys *system.System) (types.SessionStore, error) {
	if sys.Sessions == nil {
		return nil, types.ConfigurationError("sessions", fmt.Errorf("%w: %v", types.ErrNotReady, sys.StoreErr))
	}
	return sys.Sessions, nil
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
