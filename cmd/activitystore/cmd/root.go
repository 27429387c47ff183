package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aweris/activitystore"
)

var rootCmd = &cobra.Command{
	Use:   "activitystore",
	Short: "ActivityStreams object store CLI",
	Long:  "CLI for storing, querying and snapshotting ActivityStreams objects.",

	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/activitystore/config.yaml)")
	flags.String("backend", activitystore.BackendMemory, "storage backend: memory or elasticsearch")
	flags.String("cache", activitystore.CacheMemory, "cache: memory or redis")
	flags.String("namespace", activitystore.DefaultNamespace, "namespace for cache keys and indices")
	flags.Duration("ttl", activitystore.DefaultTTL, "lifetime of cache entries")
	flags.StringSlice("es-addresses", nil, "elasticsearch node addresses")
	flags.String("redis-url", "", "redis url, e.g. redis://localhost:6379/0")
	flags.Bool("debug", false, "enable debug logging")

	viper.BindPFlag("backend", flags.Lookup("backend"))
	viper.BindPFlag("cache", flags.Lookup("cache"))
	viper.BindPFlag("namespace", flags.Lookup("namespace"))
	viper.BindPFlag("ttl", flags.Lookup("ttl"))
	viper.BindPFlag("elasticsearch.addresses", flags.Lookup("es-addresses"))
	viper.BindPFlag("redis.url", flags.Lookup("redis-url"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ACTIVITY_STORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Keys read only from the config file or the environment.
	for _, key := range []string{
		"elasticsearch.username",
		"elasticsearch.password",
		"elasticsearch.api_key",
		"elasticsearch.cloud_id",
		"elasticsearch.refresh_on_write",
		"redis.compress",
		"registry.username",
		"registry.password",
	} {
		viper.BindEnv(key)
	}
	viper.BindEnv("elasticsearch.addresses", "ACTIVITY_STORE_ELASTICSEARCH_ADDRESSES", "ACTIVITY_STORE_ES_URL")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "activitystore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "activitystore")
	}
	return ".activitystore"
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("debug") {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func loadConfig() (activitystore.Config, error) {
	var cfg activitystore.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens and sets up the configured store. Callers close it.
func openStore(ctx context.Context) (*activitystore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	s, err := activitystore.Open(ctx, cfg, activitystore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := s.Setup(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
