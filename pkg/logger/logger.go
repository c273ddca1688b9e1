// Package logger provides production implementations of core.Logger.
//
// The gateway's components depend only on the core.Logger interface; this
// package supplies a zap-backed implementation selected by the logging
// section of the config (level plus pretty/json format).
package logger

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/modelgate/modelgate/core"
)

// ZapLogger adapts a zap.Logger to core.Logger
type ZapLogger struct {
	log *zap.Logger
}

// New builds a logger for the given level and format. Format "pretty"
// produces console-encoded output; anything else produces JSON.
func New(level, format string) (*ZapLogger, error) {
	var cfg zap.Config
	if format == "pretty" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	log, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{log: log}, nil
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *ZapLogger {
	return &ZapLogger{log: zap.NewNop()}
}

// Sync flushes buffered log entries
func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.log.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.log.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.log.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.log.Debug(msg, toZapFields(fields)...)
}

// toZapFields converts the map form used throughout the gateway into zap
// fields with a stable key order.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

var _ core.Logger = (*ZapLogger)(nil)
