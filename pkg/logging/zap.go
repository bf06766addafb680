// Package logging provides the gateway's structured logger, a thin
// zap.SugaredLogger adapter satisfying gateway.Logger.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lokutor-ai/lokutor-gateway/pkg/gateway"
)

// Options configures the underlying zap core: console output plus an
// optional append-only file in logDir, tagged per component.
type Options struct {
	Level     string // debug, info, warn, error
	LogDir    string // empty disables file output
	Component string
}

// ZapLogger adapts *zap.SugaredLogger to gateway.Logger's key-value style.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func New(opts Options) (*ZapLogger, error) {
	level := parseLevel(opts.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
			return nil, gateway.NewError(gateway.KindConfig, err)
		}
		name := opts.Component
		if name == "" {
			name = "gateway"
		}
		f, err := os.OpenFile(filepath.Join(opts.LogDir, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, gateway.NewError(gateway.KindConfig, err)
		}
		jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(f), level))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core)
	if opts.Component != "" {
		logger = logger.Named(opts.Component)
	}

	return &ZapLogger{sugar: logger.Sugar()}, nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogger) Debug(msg string, kv ...interface{}) { z.sugar.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...interface{})  { z.sugar.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...interface{})  { z.sugar.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...interface{}) { z.sugar.Errorw(msg, kv...) }

// Named returns a child logger tagged with component, mirroring the
// per-provider logger tagging used throughout the reference system
// (each provider gets its own named logger, e.g. "VolcanoASR").
func (z *ZapLogger) Named(component string) *ZapLogger {
	return &ZapLogger{sugar: z.sugar.Named(component)}
}

func (z *ZapLogger) Sync() error { return z.sugar.Sync() }

var _ gateway.Logger = (*ZapLogger)(nil)
