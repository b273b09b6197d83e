// Package observability holds the process-wide logger.
package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for commands and long-running services.
// It is a no-op logger until InitCLILogger is called.
var CLILogger = zap.NewNop()

// InitCLILogger builds CLILogger for the named service.
//
// Verbose mode switches to the human-readable development encoder at debug
// level; otherwise JSON is written at info level.
func InitCLILogger(service string, verbose bool) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	CLILogger = logger.With(zap.String("service", service))
}

// SetLevel adjusts the shared logger to the named level.
// Unknown level names leave the logger unchanged and return false.
func SetLevel(level string) bool {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return false
	}
	CLILogger = CLILogger.WithOptions(zap.IncreaseLevel(lvl))
	return true
}

// Named returns a child of CLILogger scoped to a component.
func Named(component string) *zap.Logger {
	return CLILogger.Named(component)
}
