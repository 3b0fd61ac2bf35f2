package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process logger. It discards output until InitLogger runs.
var Logger = zap.NewNop()

// InitLogger builds a production JSON logger in release mode and a colored
// console logger otherwise, and installs it as the zap global too.
func InitLogger(mode string) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "time"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build(zap.Fields(zap.String("service", "vizcom-trial")))
	if err != nil {
		return err
	}

	Logger = logger
	zap.ReplaceGlobals(logger)
	return nil
}

// Component returns a child logger tagged with a component name.
func Component(name string) *zap.Logger {
	return Logger.Named(name)
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
