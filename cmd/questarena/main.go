package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/victornm/questarena/internal/config"
	"github.com/victornm/questarena/internal/server"
	"github.com/victornm/questarena/internal/telemetry"
)

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:           "questarena",
		Short:         "Timed multi-level quiz game server with a live leaderboard.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}

			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}

			c, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			telemetry.SetupLogger(os.Stderr, c.Log.Format, c.Log.Level)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			return run(ctx, c)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&configPath, "config", "c", "", "path to the config file (env: CONFIG_PATH)")
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config, skipped when missing")

	return cmd
}

func run(ctx context.Context, c server.Config) error {
	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	go s.Start()

	<-ctx.Done()
	slog.Info("questarena: shutting down")
	s.Shutdown()
	return nil
}

func loadEnv(file string) error {
	if file == "" {
		return nil
	}

	if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
