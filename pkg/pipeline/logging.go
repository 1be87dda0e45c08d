package pipeline

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a structured logging field
type Field = zap.Field

// String creates a string field
func String(key, value string) Field { return zap.String(key, value) }

// Int creates an integer field
func Int(key string, value int) Field { return zap.Int(key, value) }

// Int64 creates an int64 field
func Int64(key string, value int64) Field { return zap.Int64(key, value) }

// Float64 creates a float64 field
func Float64(key string, value float64) Field { return zap.Float64(key, value) }

// Bool creates a boolean field
func Bool(key string, value bool) Field { return zap.Bool(key, value) }

// Duration creates a duration field
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Error creates an error field
func Error(err error) Field { return zap.Error(err) }

// Any creates a field with any value
func Any(key string, value interface{}) Field { return zap.Any(key, value) }

// zapLogger adapts a *zap.Logger to the Logger interface
type zapLogger struct {
	z *zap.Logger
}

// NewLogger builds a zap-backed logger from the logging configuration.
// "json" selects the production encoder, "text" and "console" the development one.
func NewLogger(config LoggingConfig) (Logger, error) {
	var zc zap.Config
	switch strings.ToLower(config.Format) {
	case "text", "console":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if config.Output != "" {
		zc.OutputPaths = []string{config.Output}
		zc.ErrorOutputPaths = []string{"stderr"}
	}

	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// FromZap wraps an existing zap logger, mostly useful in tests with zaptest/observer.
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, fields...) }

// With creates a new logger with additional fields
func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

// Sync flushes buffered entries of a logger created by NewLogger.
func Sync(logger Logger) {
	if zl, ok := logger.(*zapLogger); ok {
		_ = zl.z.Sync()
	}
}

// RedirectStdLog sends output of the standard log package (discordgo logs through it)
// to the given logger at info level. The returned func restores the previous output.
func RedirectStdLog(logger Logger) func() {
	zl, ok := logger.(*zapLogger)
	if !ok {
		return func() {}
	}
	return zap.RedirectStdLog(zl.z)
}

// DefaultLogger creates a console logger at info level
func DefaultLogger() Logger {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		return NullLogger()
	}
	return logger
}

// NullLogger creates a logger that discards all output (useful for testing)
func NullLogger() Logger {
	return &zapLogger{z: zap.NewNop()}
}
