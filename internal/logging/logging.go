// Package logging builds the launcher's zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug|info|warn|error to a zap level. Anything else is info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a logger writing human-readable lines to stderr, or JSON
// lines appended to file when file is set. The returned close function
// flushes and releases the file.
func New(level, file string) (*zap.Logger, func(), error) {
	if file == "" {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return build(zapcore.NewConsoleEncoder(enc), os.Stderr, level), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	log := build(zapcore.NewJSONEncoder(enc), f, level)
	return log, func() {
		_ = log.Sync()
		_ = f.Close()
	}, nil
}

func build(enc zapcore.Encoder, w io.Writer, level string) *zap.Logger {
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), ParseLevel(level))
	return zap.New(core).Named("mailauncher")
}
