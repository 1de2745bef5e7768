package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	format string
	base   *slog.Logger
}

// New builds a logger writing to stdout. Format is "json" (default) or "text".
func New(format string) *Logger {
	return NewWithLevel(format, "info", os.Stdout)
}

func NewWithLevel(format, level string, out io.Writer) *Logger {
	if format == "" {
		format = "json"
	}
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &Logger{
		format: format,
		base:   slog.New(handler),
	}
}

// Discard returns a logger that drops every entry.
func Discard() *Logger {
	return NewWithLevel("text", "error", io.Discard)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.write(slog.LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.write(slog.LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.write(slog.LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(slog.LevelError, msg, fields...)
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{format: l.format, base: l.base.With(toAttrs(fields)...)}
}

func (l *Logger) write(level slog.Level, msg string, fields ...Field) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Log(context.Background(), level, msg, toAttrs(fields)...)
}

type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func toAttrs(fields []Field) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, slog.String(f.Key, err.Error()))
			continue
		}
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
