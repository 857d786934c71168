// Package log provides structured per-run logging.
//
// Logger is a non-sugared zap.Logger bound with run context, used on core
// pipeline paths where structured fields matter. Sugar() returns a
// SugaredLogger for CLI/debug surfaces where printf-style convenience
// matters more than allocation cost.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunContext binds identity fields that every log line for a run carries.
type RunContext struct {
	RunID string
	Stage string
}

// Logger writes structured JSON-lines log entries bound to a run.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a logger bound to runCtx, writing to os.Stderr.
func New(runCtx RunContext) *Logger {
	return newWithWriter(runCtx, os.Stderr)
}

// WithOutput returns a new logger with a different output writer, keeping
// the same bound context fields. Used to redirect onto pipeline.log.jsonl.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := jsonCore(w)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

// WithStage returns a logger with the stage field updated.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{zap: l.zap.With(zap.String("stage", stage))}
}

func jsonCore(w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
}

func newWithWriter(runCtx RunContext, w io.Writer) *Logger {
	fields := []zap.Field{zap.String("run_id", runCtx.RunID)}
	if runCtx.Stage != "" {
		fields = append(fields, zap.String("stage", runCtx.Stage))
	}
	return &Logger{zap: zap.New(jsonCore(w)).With(fields...)}
}

// Debug logs a debug-level event with structured fields.
func (l *Logger) Debug(event string, fields map[string]any) { l.zap.Debug(event, zap.Any("fields", fields)) }

// Info logs an info-level event with structured fields.
func (l *Logger) Info(event string, fields map[string]any) { l.zap.Info(event, zap.Any("fields", fields)) }

// Warn logs a warning-level event with structured fields.
func (l *Logger) Warn(event string, fields map[string]any) { l.zap.Warn(event, zap.Any("fields", fields)) }

// Error logs an error-level event with structured fields.
func (l *Logger) Error(event string, fields map[string]any) { l.zap.Error(event, zap.Any("fields", fields)) }

// Sugar returns a SugaredLogger for printf-style CLI/debug output.
func (l *Logger) Sugar() *SugaredLogger { return &SugaredLogger{sugar: l.zap.Sugar()} }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

func (s *SugaredLogger) Infof(template string, args ...any)  { s.sugar.Infof(template, args...) }
func (s *SugaredLogger) Warnf(template string, args ...any)  { s.sugar.Warnf(template, args...) }
func (s *SugaredLogger) Errorf(template string, args ...any) { s.sugar.Errorf(template, args...) }
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
