package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Encoding   string // json, console, or empty to pick by terminal
	OutputPath string // stdout or stderr
	Service    string // service name for log context

	// File enables a second, rotated log file when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns defaults suited to a long-running daemon.
func DefaultConfig(service string) Config {
	return Config{
		Level:      "info",
		OutputPath: "stdout",
		Service:    service,
		MaxSizeMB:  100,
		MaxBackups: 30,
		MaxAgeDays: 30,
	}
}

// Rotator rotates the log file on demand. The zero value and a nil pointer
// are no-ops.
type Rotator struct {
	file *lumberjack.Logger
}

// Rotate closes the current file and starts a new one.
func (r *Rotator) Rotate() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Rotate()
}

// Close releases the underlying file.
func (r *Rotator) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// New builds a logger from cfg. The returned Rotator is non-nil only when a
// log file is configured.
func New(cfg Config) (*zap.Logger, *Rotator, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var output *os.File
	switch cfg.OutputPath {
	case "stderr":
		output = os.Stderr
	case "", "stdout":
		output = os.Stdout
	default:
		return nil, nil, fmt.Errorf("unsupported log output %q", cfg.OutputPath)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
		if isatty.IsTerminal(output.Fd()) {
			encoding = "console"
		}
	}

	consoleCfg := encoderConfig
	if encoding == "console" && isatty.IsTerminal(output.Fd()) {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(encoding, consoleCfg), zapcore.Lock(output), level),
	}

	var rot *Rotator
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		rot = &Rotator{file: lj}
		// Files always get plain text, never terminal colors.
		cores = append(cores, zapcore.NewCore(newEncoder(fileEncoding(encoding), encoderConfig), zapcore.AddSync(lj), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	return zap.New(zapcore.NewTee(cores...), opts...), rot, nil
}

func newEncoder(encoding string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	if encoding == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func fileEncoding(encoding string) string {
	if encoding == "console" {
		return "console"
	}
	return "json"
}

// ParseLevel converts a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

type ctxKey struct{}

// WithContext attaches l to ctx so downstream calls log with its fields.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or fallback.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}
