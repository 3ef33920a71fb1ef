package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without starting the bot.

The .env file is loaded first, then the YAML is parsed, environment
variables are expanded, defaults applied and every field validated.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Marketplace:   %s\n", cfg.Account.BaseURL)
	fmt.Fprintf(out, "  Poll interval: %s (escalated %s after %d errors)\n",
		cfg.Runner.Interval, cfg.Runner.EscalatedInterval, cfg.Runner.ErrorThreshold)
	fmt.Fprintf(out, "  Transport:     timeout %s, spacing %s, %d attempts, cache %s\n",
		cfg.Transport.Timeout, cfg.Transport.MinInterval, cfg.Transport.MaxRetries, cfg.Transport.CacheBackend)
	fmt.Fprintf(out, "  Telegram:      %t\n", cfg.Telegram.Enabled)
	fmt.Fprintf(out, "  Journal:       %t\n", cfg.Database.Enabled)
	fmt.Fprintf(out, "  Health port:   %d\n", cfg.Server.HealthPort)
	if cfg.Server.APIKey != "" {
		fmt.Fprintf(out, "  API port:      %d\n", cfg.Server.APIPort)
	} else {
		fmt.Fprintf(out, "  API:           disabled (no server.api_key)\n")
	}
	if cfg.Transport.Mock {
		fmt.Fprintf(out, "  Mock mode:     on\n")
	}
	return nil
}

// loadConfig loads the dotenv file and the validated config named by the
// command flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	return config.LoadAndValidate(configFile)
}
