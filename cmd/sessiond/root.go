package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/sessiond"
	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "sessiond is a distributed session storage coordinator",
	Long: `sessiond stores authenticated user sessions in a map shared by the cluster.

Session commands operate on the configured backend. With the default in-memory
backend every invocation starts empty; point them at redis to inspect a cluster.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("backend", "", "Store backend (memory, redis)")
	flags.String("node", "", "Name of the local cluster member")
	flags.String("redis-addr", "", "Redis address (host:port)")

	for _, name := range []string{"config", "log-level", "backend", "node", "redis-addr"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("SESSIOND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file, if any, and applies flag and
// environment overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(viper.GetString("config")); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(viper.GetString("backend")); v != "" {
		cfg.Store.Backend = v
	}
	if v := strings.TrimSpace(viper.GetString("node")); v != "" {
		cfg.Store.Node = v
	}
	if v := strings.TrimSpace(viper.GetString("redis-addr")); v != "" {
		cfg.Redis.Addr = v
	}
	return cfg, nil
}

func newLogger() (*slog.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// openService loads the configuration and opens the storage. The returned
// config is the one the service was opened with.
func openService(cmd *cobra.Command) (*sessiond.Service, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	svc, err := sessiond.Open(cmd.Context(), cfg, sessiond.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
