// Package logging builds the zap loggers shared by every pipeline stage.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log entry.
const ServiceName = "writeups"

// New builds the process logger: colored console output in development,
// JSON in production. Sampling is off so every per-identifier outcome is kept.
func New(development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Sampling = nil
	cfg.DisableStacktrace = !development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.Fields(zap.String("service", ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForStage returns a child logger tagged with the run and pipeline stage.
func ForStage(logger *zap.Logger, runID, stage string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named(stage).With(zap.String("run_id", runID), zap.String("stage", stage))
}
