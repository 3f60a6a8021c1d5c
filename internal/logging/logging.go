// Package logging builds the service's zap loggers. Console output goes to
// stderr; when a log directory is configured, JSON logs are also written
// there with size-based rotation.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Dir holds rotated JSON log files. Empty disables file output.
	Dir   string
	Debug bool
}

// New returns a logger writing to stderr and, when opts.Dir is set, to a
// rotated app.log in that directory.
func New(opts Options) (*zap.Logger, error) {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), level),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: filepath.Join(opts.Dir, "app.log"),
				MaxSize:  100,
				MaxAge:   28,
				Compress: true,
			}),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}
