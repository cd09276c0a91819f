package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"policyhub-backend/infrastructure/config"
)

// NewLogger builds the application logger. The returned level can be
// changed at runtime, the config watcher uses it to follow log.level.
func NewLogger(environment string, cfg config.LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	var zapConfig zap.Config
	if environment == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format != "" {
		zapConfig.Encoding = cfg.Format
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, zapConfig.Level, nil
}

// FollowLogLevel returns a config callback that applies log level changes
func FollowLogLevel(level zap.AtomicLevel, logger *zap.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		next, err := zapcore.ParseLevel(cfg.Logging.Level)
		if err != nil || next == level.Level() {
			return
		}
		logger.Info("Log level changed",
			zap.String("from", level.Level().String()),
			zap.String("to", next.String()),
		)
		level.SetLevel(next)
	}
}
