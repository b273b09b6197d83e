package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CurseForgeCommunity/CFLookup/internal/config"
	"github.com/CurseForgeCommunity/CFLookup/internal/observability"
)

var doctorConnect bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  cflookup doctor              # Local environment and config checks
  cflookup doctor --connect    # Also ping Redis and the database`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorConnect, "connect", false, "Ping Redis and the database")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observability.CLILogger

	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6
	if doctorConnect {
		totalChecks = 8
	}

	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	version := crucible.GetVersion()
	if version.Crucible != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	cfg, err := currentConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid configuration", checkNum, totalChecks),
			zap.Error(err))
		printConfigHelp()
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if problems := configProblems(cfg); len(problems) > 0 {
		for _, p := range problems {
			log.Warn(fmt.Sprintf("[%d/%d] Checking configuration... ⚠️  %s", checkNum, totalChecks, p))
		}
		printConfigHelp()
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ api_key=%s driver=%s", checkNum, totalChecks,
			maskSecret(cfg.CurseForge.APIKey), cfg.Database.Driver),
			zap.String("redis_addr", cfg.Redis.Addr))
	}
	checkNum++

	if doctorConnect {
		allChecks = runConnectChecks(ctx, checkNum, totalChecks) && allChecks
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", errors.New("one or more checks failed"))
	}
	return nil
}

// configProblems lists settings that load fine but leave cflookup unable
// to sync.
func configProblems(cfg *config.Config) []string {
	var problems []string
	if cfg.CurseForge.APIKey == "" {
		problems = append(problems, "curseforge.api_key is not set")
	}
	if cfg.Redis.Addr == "" {
		problems = append(problems, "redis.addr is not set; job locks are unavailable")
	}
	if cfg.Notify.WebhookURL == "" {
		problems = append(problems, "notify.webhook_url is not set; run summaries are not posted")
	}
	return problems
}

func runConnectChecks(ctx context.Context, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("Connectivity Checks:")

	ok := true
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	d, err := openDeps(pingCtx, needRedis)
	if err == nil {
		err = d.redis.Ping(pingCtx).Err()
		_ = d.Close()
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking Redis... ❌ Unreachable", checkNum, totalChecks), zap.Error(err))
		ok = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking Redis... ✅ reachable", checkNum, totalChecks))
	}
	checkNum++

	d, err = openDeps(pingCtx, needStore)
	if err == nil {
		err = d.store.Ping(pingCtx)
		_ = d.Close()
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking database... ❌ Unreachable", checkNum, totalChecks), zap.Error(err))
		ok = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking database... ✅ reachable and migrated", checkNum, totalChecks))
	}
	return ok
}

// maskSecret masks all but the last 4 characters of a secret. Empty
// secrets stay empty so "not set" remains visible.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// printConfigHelp prints help for configuring cflookup.
func printConfigHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure cflookup:")
	log.Info("  1. Set CFLOOKUP_CF_API_KEY (or the legacy CFAPI_Key), or")
	log.Info("  2. Add curseforge.api_key to the config file (see 'cflookup config show --defaults')")
	log.Info("")
	log.Info("Redis and the database are set with CFLOOKUP_REDIS_ADDR and CFLOOKUP_DB_DSN.")
	log.Info("")
}
