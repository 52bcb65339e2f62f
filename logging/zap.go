package logging

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapConfig configures the rotating file logger
type ZapConfig struct {
	Dir        string // directory for memoscope.log
	Level      Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool // also write human-readable lines to stderr
}

// DefaultZapConfig returns sensible rotation defaults for dir
func DefaultZapConfig(dir string) ZapConfig {
	return ZapConfig{
		Dir:        dir,
		Level:      InfoLevel,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Console:    false,
	}
}

// ZapLogger implements Logger on top of zap, writing JSON lines to a
// lumberjack-rotated file.
type ZapLogger struct {
	base   *zap.Logger
	level  zap.AtomicLevel
	fields Fields
	closer func() error
}

// NewZapLogger creates a logger writing to <cfg.Dir>/memoscope.log
func NewZapLogger(cfg ZapConfig) (*ZapLogger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "memoscope.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	atom := zap.NewAtomicLevelAt(toZapLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), atom),
	}
	if cfg.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), atom))
	}

	return &ZapLogger{
		base:   zap.New(zapcore.NewTee(cores...)),
		level:  atom,
		fields: make(Fields),
		closer: rotator.Close,
	}, nil
}

// NewZapLoggerFromCore wraps an existing zap core (used with observer cores in tests)
func NewZapLoggerFromCore(core zapcore.Core, level Level) *ZapLogger {
	return &ZapLogger{
		base:   zap.New(core),
		level:  zap.NewAtomicLevelAt(toZapLevel(level)),
		fields: make(Fields),
		closer: func() error { return nil },
	}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogger) zapFields(err error, extra []Fields) []zap.Field {
	out := make([]zap.Field, 0, len(z.fields)+1)
	for k, v := range z.fields {
		out = append(out, zap.Any(k, v))
	}
	for _, f := range extra {
		for k, v := range f {
			out = append(out, zap.Any(k, v))
		}
	}
	if err != nil {
		out = append(out, zap.Error(err))
	}
	return out
}

func (z *ZapLogger) enabled(level Level) bool {
	return z.level.Enabled(toZapLevel(level))
}

func (z *ZapLogger) Debug(msg string, fields ...Fields) {
	if z.enabled(DebugLevel) {
		z.base.Debug(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Info(msg string, fields ...Fields) {
	if z.enabled(InfoLevel) {
		z.base.Info(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Warn(msg string, fields ...Fields) {
	if z.enabled(WarnLevel) {
		z.base.Warn(msg, z.zapFields(nil, fields)...)
	}
}

func (z *ZapLogger) Error(err error, msg string, fields ...Fields) {
	if z.enabled(ErrorLevel) {
		z.base.Error(msg, z.zapFields(err, fields)...)
	}
}

func (z *ZapLogger) Fatal(err error, msg string, fields ...Fields) {
	z.base.Fatal(msg, z.zapFields(err, fields)...)
}

func (z *ZapLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(z.fields)+len(fields))
	for k, v := range z.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ZapLogger{
		base:   z.base,
		level:  z.level,
		fields: merged,
		closer: z.closer,
	}
}

func (z *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := FieldsFromContext(ctx); ok {
		return z.WithFields(fields)
	}
	return z
}

// SetLevel changes the level for this logger and every child derived from it
func (z *ZapLogger) SetLevel(level Level) {
	z.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries and closes the rotating file
func (z *ZapLogger) Sync() error {
	_ = z.base.Sync()
	return z.closer()
}
