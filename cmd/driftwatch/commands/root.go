package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/driftwatch/internal/app"
	"github.com/halcyon-sec/driftwatch/pkg/config"
	"github.com/halcyon-sec/driftwatch/pkg/version"
)

var (
	cfgFile  string
	mockMode bool
	region   string
	verbose  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Cloud configuration change detection and audit",
	Long: `driftwatch tracks cloud configuration over time: it records every
revision of every monitored object, audits changes against a rule set,
and re-audits dependent technologies when their dependencies move.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&region, "region", "us-east-1", "AWS region")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.PersistentFlags().BoolVar(&mockMode, "mock", false, "Run with scripted sources")
	rootCmd.PersistentFlags().MarkHidden("mock")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		slog.SetDefault(newLogger())
		return nil
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(dependentsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildApp wires the engine for one command invocation.
func buildApp(ctx context.Context) (*app.App, error) {
	return app.Bootstrap(ctx, cfg, app.Options{MockMode: mockMode, Region: region}, slog.Default())
}
