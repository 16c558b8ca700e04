// Package cli implements the snake-arena command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/snake-arena/internal/config"
)

// options are the global flags shared by every command
type options struct {
	configPath string
	envFile    string
	logLevel   string
	out        io.Writer
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &options{out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:   "snake-arena",
		Short: "Snake Arena game server",
		Long: `snake-arena runs the Snake Arena backend: accounts, the score leaderboard
and the live player registry spectators watch.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newLoadgenCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// load reads the env file and configuration and builds the logger. A missing
// config file falls back to defaults, as the server can run on env alone.
func (o *options) load() (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnv(o.envFile); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(o.configPath)
	var fallbackErr error
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		fallbackErr = err
		cfg = config.DefaultConfig()
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger := slog.New(slog.NewJSONHandler(o.out, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if fallbackErr != nil {
		logger.Warn("config file not found, using defaults", "path", o.configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("auth.jwt_secret is not set, using an insecure development secret")
	}
	return cfg, logger, nil
}

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format, args...)
}
