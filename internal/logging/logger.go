// Package logging provides structured logging for the simulator.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance
	Logger *zap.Logger
	// Sugar is the sugared logger for convenient logging
	Sugar *zap.SugaredLogger
)

// Config holds logging configuration
type Config struct {
	Level  string
	Format string
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg Config) error {
	level := parseLevel(cfg.Level)

	var encoder zapcore.Encoder
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		level,
	)

	Logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	Sugar = Logger.Sugar()

	return nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Debug(msg, fields...)
	}
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Info(msg, fields...)
	}
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Warn(msg, fields...)
	}
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Error(msg, fields...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Fatal(msg, fields...)
	}
}

// With creates a child logger with the given fields
func With(fields ...zap.Field) *zap.Logger {
	if Logger != nil {
		return Logger.With(fields...)
	}
	return zap.NewNop()
}

// EventSink is a structured logger specialized for the line-delimited JSON
// connection/data events described in the simulator's external interface
// (sim_connect, sim_disconnect, sim_data, mesh_disconnect). It is separate
// from the general Logger because JSON event emission is gated by a
// per-simulation "verbose" flag, independent of the configured log level.
type EventSink struct {
	logger  *zap.Logger
	enabled bool
}

// NewEventSink builds an EventSink that writes structured JSON event lines
// through the global zap core when enabled is true; when false, all calls
// are no-ops so callers never need to branch on the verbose flag themselves.
func NewEventSink(enabled bool) *EventSink {
	l := Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &EventSink{logger: l.With(zap.String("stream", "sim_events")), enabled: enabled}
}

// Emit writes one structured event line tagged with the given type.
func (e *EventSink) Emit(eventType string, fields ...zap.Field) {
	if e == nil || !e.enabled {
		return
	}
	all := make([]zap.Field, 0, len(fields)+1)
	all = append(all, zap.String("type", eventType))
	all = append(all, fields...)
	e.logger.Info(eventType, all...)
}
