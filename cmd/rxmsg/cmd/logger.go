package cmd

import (
	"strings"

	"github.com/tsarna/rxmsg/pkg/rxmsg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogger builds the process logger from the command line flags and, when
// given, a logging block. An explicit --log-level wins over the block's level;
// --debug and --verbose win over both.
func setupLogger(def *config.LoggingDefinition) (*zap.Logger, error) {
	level := logLevel
	if def != nil && def.Level != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		level = def.Level
	}

	debugFlag := GetDebug()
	verboseFlag := GetVerbose()

	// Override log level based on flags
	if debugFlag {
		level = "debug"
	} else if verboseFlag && level == "info" {
		level = "debug"
	}

	zapLevel := parseLevel(level)

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.Development = debugFlag

	logger, err := cfg.Build()
	if err != nil || def == nil || def.File == "" {
		return logger, err
	}

	fileCore := zapcore.NewCore(
		fileEncoder(),
		zapcore.AddSync(rotatingFile(def)),
		zapLevel,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func parseLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(level) {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

func fileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// rotatingFile returns the log file writer. Zero values take lumberjack's
// defaults (100 MB, keep everything).
func rotatingFile(def *config.LoggingDefinition) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   def.File,
		MaxSize:    def.MaxSizeMB,
		MaxBackups: def.MaxBackups,
		MaxAge:     def.MaxAgeDays,
		Compress:   def.Compress,
	}
}
