// Package logging provides simple leveled logging for the runtime.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "text" or "json"
	Output  io.Writer
	Sync    bool // flush after every line; useful for tests capturing output
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps stdlib log with level support and a small set of bound
// key-value fields accumulated via the WithXxx helpers.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	format string
	fields []field
	mu     *sync.Mutex
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger from config. A nil config means
// DefaultConfig; a nil Output means os.Stderr and an empty Format means
// "text". Other fields are used as given, so a zero Level is LevelDebug.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
		format: format,
		mu:     &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

func (l *Logger) with(k string, v any) *Logger {
	next := &Logger{
		logger: l.logger,
		level:  l.level,
		format: l.format,
		mu:     l.mu,
	}
	next.fields = append(next.fields, l.fields...)
	next.fields = append(next.fields, field{k, v})
	return next
}

// WithProc binds a proc id to subsequent log lines.
func (l *Logger) WithProc(procID int) *Logger { return l.with("proc_id", procID) }

// WithContext binds a context id to subsequent log lines.
func (l *Logger) WithContext(contextID int) *Logger { return l.with("context_id", contextID) }

// WithRequest binds a request id and operation name to subsequent log lines.
func (l *Logger) WithRequest(reqID uint64, op string) *Logger {
	return l.with("tag", reqID).with("op", op)
}

// WithError binds an error to subsequent log lines.
func (l *Logger) WithError(err error) *Logger { return l.with("error", err) }

// Backward-compatible aliases matching device/queue nomenclature used
// elsewhere in the ambient logging idiom.
func (l *Logger) WithDevice(id int) *Logger { return l.WithProc(id) }
func (l *Logger) WithQueue(id int) *Logger  { return l.WithContext(id) }

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return " " + b.String()
}

func (l *Logger) render(prefix, msg string, args []any) string {
	var b strings.Builder
	if l.format == "json" {
		b.WriteByte('{')
		fmt.Fprintf(&b, "%q:%q", "level", strings.Trim(prefix, "[]"))
		fmt.Fprintf(&b, ",%q:%q", "msg", msg)
		for _, f := range l.fields {
			fmt.Fprintf(&b, ",%q:%q", f.key, fmt.Sprint(f.val))
		}
		for i := 0; i < len(args); i += 2 {
			if i+1 < len(args) {
				fmt.Fprintf(&b, ",%q:%q", fmt.Sprint(args[i]), fmt.Sprint(args[i+1]))
			}
		}
		b.WriteByte('}')
		return b.String()
	}
	b.WriteString(prefix)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.key, f.val)
	}
	b.WriteString(formatArgs(args))
	return b.String()
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Print(l.render(prefix, msg, args))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...)) }

// Printf logs at info level; kept for call sites ported from %-style logging.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions operating on Default().
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
