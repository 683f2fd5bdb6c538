package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger. Development mode gives colored, human-oriented
// output for interactive CLI use; production mode gives JSON.
func New(development bool) (*zap.Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	} else {
		config = zap.NewProductionConfig()
	}

	return config.Build()
}

// MustNew creates a logger and panics if it fails.
func MustNew(development bool) *zap.Logger {
	log, err := New(development)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return log
}
