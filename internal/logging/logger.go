package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. prod/production get JSON output, anything else
// a coloured console encoder.
func New(env string) (*zap.Logger, error) {
	var config zap.Config

	if IsProduction(env) {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger.With(zap.String("env", env)), nil
}

func IsProduction(env string) bool {
	return env == "prod" || env == "production"
}
