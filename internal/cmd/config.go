package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect cflookup configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration as YAML after defaults, the config
file, CFLOOKUP_* environment variables and flags are merged.

Secrets (API key, Redis password, database auth token and the webhook
URL) are masked.

Examples:
  cflookup config show
  cflookup config show --defaults`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().Bool("defaults", false, "Show built-in defaults only")
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	defaultsOnly, _ := cmd.Flags().GetBool("defaults")

	var cfg config.Config
	if defaultsOnly {
		v := viper.New()
		config.SetDefaults(v)
		if err := v.Unmarshal(&cfg); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to decode defaults", err)
		}
	} else {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		loaded, err := currentConfig(ctx)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
		}
		cfg = *loaded
	}

	return writeConfigYAML(cmd.OutOrStdout(), maskConfig(cfg))
}

func writeConfigYAML(w io.Writer, cfg config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// maskConfig returns cfg with every secret replaced by a masked form.
func maskConfig(cfg config.Config) config.Config {
	cfg.CurseForge.APIKey = maskSecret(cfg.CurseForge.APIKey)
	cfg.Redis.Password = maskSecret(cfg.Redis.Password)
	cfg.Database.AuthToken = maskSecret(cfg.Database.AuthToken)
	cfg.Notify.WebhookURL = maskSecret(cfg.Notify.WebhookURL)
	return cfg
}
