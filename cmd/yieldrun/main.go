package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/yieldrun/internal/application"
	"github.com/sawpanic/yieldrun/internal/config"
)

const (
	appName = "yieldrun"
	version = "v1.0.0"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "DeFi yield aggregation, risk scoring and allocation",
		Version: version,
		Long: `yieldrun aggregates lending and liquidity pool yields from the protocol
directory, price feed and on-chain reserves, scores protocol risk, analyzes
historical trends and proposes tiered allocations.

Every command prints indented JSON on stdout; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults are built in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(
		newTopCmd(),
		newStablecoinsCmd(),
		newTokenCmd(),
		newProtocolCmd(),
		newRiskCmd(),
		newHistoryCmd(),
		newTrendCmd(),
		newPortfolioCmd(),
		newILCmd(),
		newAllocateCmd(),
		newOverviewCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// setupLogging picks a console writer on a terminal and JSON otherwise.
func setupLogging(out *os.File, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = out
	if term.IsTerminal(int(out.Fd())) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	if level == "" {
		level = os.Getenv("YIELDRUN_LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// loadRuntime reads configuration and wires the engine.
func loadRuntime(ctx context.Context) (*config.Config, *application.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel == "" {
		zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))
	}
	rt, err := application.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}

// withEngine runs fn against a freshly wired engine and prints its result.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *application.Engine) (interface{}, error)) error {
	ctx := cmd.Context()
	_, rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := fn(ctx, rt.Engine)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
