package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gitgate/gateway/cmd/server"
	"gitgate/gateway/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		return server.Run(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
}

// loadConfig materializes the viper state into the explicit Config
// object everything below the cmd layer receives.
func loadConfig() *config.Config {
	cfg := config.Default()

	viper.SetDefault("listen_addr", cfg.ListenAddr)
	viper.SetDefault("session_ttl", cfg.SessionTTL)
	viper.SetDefault("sweep_interval", cfg.SweepInterval)
	viper.SetDefault("default_mode", cfg.DefaultMode)
	viper.SetDefault("git_timeout", cfg.GitTimeout)
	viper.SetDefault("provider.timeout", cfg.Provider.Timeout)
	viper.SetDefault("ratelimit.create.max", cfg.RateLimits.Create.Max)
	viper.SetDefault("ratelimit.create.window", cfg.RateLimits.Create.Window)
	viper.SetDefault("ratelimit.lookup_fail.max", cfg.RateLimits.LookupFail.Max)
	viper.SetDefault("ratelimit.lookup_fail.window", cfg.RateLimits.LookupFail.Window)
	viper.SetDefault("ratelimit.heartbeat.max", cfg.RateLimits.Heartbeat.Max)
	viper.SetDefault("ratelimit.heartbeat.window", cfg.RateLimits.Heartbeat.Window)

	cfg.ListenAddr = viper.GetString("listen_addr")
	cfg.DataDir = viper.GetString("data_dir")
	cfg.AdminToken = viper.GetString("admin_token")
	cfg.SessionTTL = viper.GetDuration("session_ttl")
	cfg.SweepInterval = viper.GetDuration("sweep_interval")
	cfg.DefaultMode = viper.GetString("default_mode")
	cfg.Strict = viper.GetBool("strict")
	cfg.GitTimeout = viper.GetDuration("git_timeout")
	cfg.Provider.BaseURL = viper.GetString("provider.base_url")
	cfg.Provider.Token = viper.GetString("provider.token")
	cfg.Provider.Timeout = viper.GetDuration("provider.timeout")
	cfg.RateLimits.Create = limitFromViper("ratelimit.create")
	cfg.RateLimits.LookupFail = limitFromViper("ratelimit.lookup_fail")
	cfg.RateLimits.Heartbeat = limitFromViper("ratelimit.heartbeat")

	return cfg
}

func limitFromViper(key string) config.Limit {
	return config.Limit{
		Max:    viper.GetInt(key + ".max"),
		Window: viper.GetDuration(key + ".window"),
	}
}
