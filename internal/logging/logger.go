// Package logging provides leveled logging and event tracing for cellsim.
// It offers two complementary outputs:
//   - A leveled zap.Logger for stderr (operational output)
//   - An EventLogger for structured JSONL simulation events (<output>/events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelTrace is a custom level below Debug for per-cell, per-step output.
const LevelTrace = zapcore.DebugLevel - 1

// EventsFile is the name of the JSONL event trace inside an output
// directory.
const EventsFile = "events.jsonl"

// ParseLevel maps a string level name to a zap level.
// Supported values: "trace", "debug", "info", "warn", "error"
// (case-insensitive). Unknown values default to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
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

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == LevelTrace {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// NewLogger creates a leveled JSON zap.Logger writing to w.
func NewLogger(level string, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = encodeLevel
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(ParseLevel(level)),
	)
	return zap.New(core)
}

// Trace logs msg at LevelTrace. Safe with a nil logger.
func Trace(log *zap.Logger, msg string, fields ...zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(LevelTrace, msg); ce != nil {
		ce.Write(fields...)
	}
}

// EventLogger writes structured simulation events to a JSONL file.
// It is safe for concurrent use. A nil EventLogger is safe to use;
// all methods are no-ops on nil receiver.
type EventLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewEventLogger creates an event logger writing to dir/events.jsonl,
// truncating any previous trace. An empty dir returns nil.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewEventLogger(dir string) *EventLogger {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil
	}

	return &EventLogger{file: f}
}

// Log writes an event as a single JSONL line.
// A "time" field (wall clock) is added automatically. The caller's map is
// not mutated. Safe to call on nil receiver.
func (el *EventLogger) Log(event map[string]any) {
	if el == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = el.file.Write(data)
}

// Path returns the trace file path, or "" for a nil or closed logger.
func (el *EventLogger) Path() string {
	if el == nil {
		return ""
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return ""
	}
	return el.file.Name()
}

// Close closes the underlying file. Safe to call on nil receiver.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}

	el.file.Close()
	el.file = nil
}
