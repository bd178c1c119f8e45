// Package logging provides the level-gated pipeline logger.
//
// Two environment switches control verbosity: PIPELINE_VERBOSE enables INFO
// and PIPELINE_DEBUG enables DEBUG. ERROR and WARN always emit. Output is a
// single structured line per event so the daemon log stays greppable.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a log severity.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	}
	return "UNKNOWN"
}

// Logger writes level-gated single-line output.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	name  string
}

// New builds a logger reading PIPELINE_VERBOSE / PIPELINE_DEBUG. When
// filePath is non-empty the output goes through a rotating file sink
// instead of stderr.
func New(name, filePath string) *Logger {
	level := LevelWarn
	if envBool("PIPELINE_VERBOSE") {
		level = LevelInfo
	}
	if envBool("PIPELINE_DEBUG") {
		level = LevelDebug
	}

	var out io.Writer = os.Stderr
	if filePath != "" {
		out = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return &Logger{out: out, level: level, name: name}
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(name string, level Level, out io.Writer) *Logger {
	return &Logger{out: out, level: level, name: name}
}

// Level returns the active gate.
func (l *Logger) Level() Level { return l.level }

// Named returns a child logger sharing the same sink and gate.
func (l *Logger) Named(name string) *Logger {
	return &Logger{out: l.out, level: l.level, name: name}
}

func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args, nil) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args, nil) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args, nil) }
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args, nil) }

// Event emits a structured key=value line, for log processing downstream.
func (l *Logger) Event(level Level, msg string, fields map[string]any) {
	l.logf(level, "%s", []any{msg}, fields)
}

func (l *Logger) logf(level Level, format string, args []any, fields map[string]any) {
	if level > l.level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(level.String())
	if l.name != "" {
		b.WriteString(" [")
		b.WriteString(l.name)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	fmt.Fprintf(&b, format, args...)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1" || v == "yes"
}
