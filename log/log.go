// Package log provides the structured logging facade used across the
// trust-and-consensus core. It wraps zap the way the rest of the
// component stack expects: a small interface, a With() for scoped
// fields, and a no-op implementation for tests and collaborator-less
// deployments.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logger every component accepts at
// construction time. Fields are passed as alternating key/value pairs,
// geth/zap style, so call sites read the same across the codebase.
type Logger interface {
	With(kv ...interface{}) Logger
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

type zapLogger struct {
	l *zap.SugaredLogger
}

// New returns a production JSON logger at the given level ("debug",
// "info", "warn", "error").
func New(level string) Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}
	return &zapLogger{l: base.Sugar()}
}

// NewDevelopment returns a human-readable console logger, handy for
// local runs of cmd/benchmark.
func NewDevelopment() Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	base, err := cfg.Build()
	if err != nil {
		return NewNoOp()
	}
	return &zapLogger{l: base.Sugar()}
}

func (z *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{l: z.l.With(kv...)}
}

func (z *zapLogger) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...interface{})  { z.l.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }

// noOpLogger discards everything; used by components that receive no
// logger so background samplers and workflows never nil-panic.
type noOpLogger struct{}

// NewNoOp returns a logger that discards all output.
func NewNoOp() Logger { return noOpLogger{} }

func (noOpLogger) With(kv ...interface{}) Logger           { return noOpLogger{} }
func (noOpLogger) Debug(msg string, kv ...interface{})     {}
func (noOpLogger) Info(msg string, kv ...interface{})      {}
func (noOpLogger) Warn(msg string, kv ...interface{})      {}
func (noOpLogger) Error(msg string, kv ...interface{})     {}

var _ Logger = (*zapLogger)(nil)
var _ Logger = noOpLogger{}

// Must returns l, or, if err is non-nil, writes err to stderr and
// returns a no-op logger instead; it never panics.
func Must(l Logger, err error) Logger {
	if err != nil {
		os.Stderr.WriteString("log: falling back to no-op logger: " + err.Error() + "\n")
		return NewNoOp()
	}
	return l
}
