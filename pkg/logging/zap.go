package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter backs the Logger interface with a zap.SugaredLogger,
// hiding zap types from the rest of the codebase.
type ZapAdapter struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapAdapter builds a production zap logger at the given level.
// Accepted levels: debug, info, warn, error (default info).
func NewZapAdapter(level string) (*ZapAdapter, error) {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapAdapter{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}, nil
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries, call on daemon exit
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

// Funcs exposes the adapter as LogFuncs for prefix-derived loggers
func (z *ZapAdapter) Funcs() LogFuncs {
	return LogFuncs{
		Debugf: z.Debugf,
		Infof:  z.Infof,
		Warnf:  z.Warnf,
		Errorf: z.Errorf,
	}
}
