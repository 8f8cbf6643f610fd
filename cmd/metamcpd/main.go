package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"metamcp/internal/app"
	"metamcp/internal/infra/config"
)

type rootOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		configPath: "metamcp.yaml",
	}

	root := &cobra.Command{
		Use:   "metamcpd",
		Short: "Meta MCP server that routes tool selection across child MCP servers",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newInitCmd(&opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	var overrides struct {
		primary  string
		fallback string
		maxTools int
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing daemon on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			serveCfg := app.ServeConfig{ConfigPath: opts.configPath}
			applyServeFlagOverrides(cmd.Flags(), &serveCfg, overrides.primary, overrides.fallback, overrides.maxTools)

			application := app.New(logger)
			return application.Serve(ctx, serveCfg)
		},
	}

	cmd.Flags().StringVar(&overrides.primary, "primary", "", "override the primary selection strategy")
	cmd.Flags().StringVar(&overrides.fallback, "fallback", "", "override the fallback selection strategy")
	cmd.Flags().IntVar(&overrides.maxTools, "max-tools", 0, "override the selection size cap")

	return cmd
}

// applyServeFlagOverrides copies only the flags the user actually set, so an
// untouched flag never clobbers a configured value with its zero default.
func applyServeFlagOverrides(flags *pflag.FlagSet, cfg *app.ServeConfig, primary, fallback string, maxTools int) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "primary":
			cfg.Primary = primary
		case "fallback":
			cfg.Fallback = fallback
		case "max-tools":
			cfg.MaxTools = maxTools
		}
	})
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			return application.ValidateConfig(opts.configPath)
		},
	}
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteDefault(opts.configPath)
		},
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
