// Package cmd implements the cflookup command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
	"github.com/CurseForgeCommunity/CFLookup/internal/observability"
	"github.com/CurseForgeCommunity/CFLookup/internal/server/handlers"
)

var (
	cfgFile  string
	verbose  bool
	logLevel string
	readOnly bool

	appIdentity *config.Identity

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

var rootCmd = &cobra.Command{
	Use:   "cflookup",
	Short: "CurseForge project and file mirror",
	Long: `cflookup mirrors CurseForge project and file metadata into a local
database and serves lookups over HTTP.

Sync jobs scan the ID space in buckets and bulk-upsert what they find. A
Redis-backed lock keeps each job to one running instance across every
worker sharing the same Redis.

Examples:
  cflookup serve                   # API plus scheduled sync jobs
  cflookup sync projects           # One project sync, then exit
  cflookup lock status             # Who holds the sync locks
  cflookup manifest check pack.zip # Find undownloadable mods in a pack`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./cflookup.yaml or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Human-readable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse commands that write to the database or the lock store")
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
	_ = viper.BindEnv("readonly", "CFLOOKUP_READONLY")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	}
	_ = observability.CLILogger.Sync()
	return ExitCode(err)
}

// SetVersionInfo records build metadata for `version` and GET /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity the config was loaded with, or nil
// before the first command runs.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// setDefaults registers config defaults on the global viper instance.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appIdentity = config.AppIdentity()

	name := "cflookup"
	if appIdentity != nil && appIdentity.BinaryName != "" {
		name = appIdentity.BinaryName
	}
	observability.InitCLILogger(name, verbose || cfg.Logging.Profile == "console")
	if !observability.SetLevel(cfg.Logging.Level) {
		observability.CLILogger.Warn("Unknown log level, keeping default", zap.String("level", cfg.Logging.Level))
	}
	return nil
}

// flagOverrides turns explicitly set persistent flags into config overrides.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		out["logging"] = map[string]any{"level": strings.TrimSpace(logLevel)}
	}
	return out
}

// isReadOnly reports whether --readonly or CFLOOKUP_READONLY is in effect.
func isReadOnly() bool {
	return readOnly || viper.GetBool("readonly")
}

func requireWritable(what string) error {
	if isReadOnly() {
		return exitError(foundry.ExitInvalidArgument, what+" refused", fmt.Errorf("readonly mode is enabled"))
	}
	return nil
}
