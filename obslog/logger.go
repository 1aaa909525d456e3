// Package obslog provides the structured logger shared by every HTN
// component. It mirrors the teacher stack's layered observability
// design: console output always works, a pluggable metrics sink is a
// secondary, best-effort layer that correctness never depends on.
package obslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// MetricsSink receives a count of log emissions per level. The default
// sink is a no-op; callers may plug in a real registry without the
// logger needing to know its shape.
type MetricsSink interface {
	IncLogEvent(level, component string)
}

type noopSink struct{}

func (noopSink) IncLogEvent(string, string) {}

// Logger is the ambient logger injected into every component.
type Logger struct {
	level   string
	debug   bool
	service string
	format  string
	output  io.Writer
	mu      sync.RWMutex

	errorLimiter *RateLimiter
	metrics      MetricsSink
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// New builds a logger for the given service/component name. Level and
// format follow the same environment-variable precedence as the
// teacher stack: HTNCORE_LOG_LEVEL, HTNCORE_LOG_FORMAT, HTNCORE_DEBUG,
// with auto-detection of a Kubernetes environment defaulting to JSON.
func New(service string) *Logger {
	level := os.Getenv("HTNCORE_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := os.Getenv("HTNCORE_DEBUG") == "true" || strings.ToUpper(level) == "DEBUG"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("HTNCORE_LOG_FORMAT"); f != "" {
		format = f
	}

	return &Logger{
		level:        strings.ToUpper(level),
		debug:        debug,
		service:      service,
		format:       format,
		output:       os.Stdout,
		errorLimiter: NewRateLimiter(1 * time.Second),
		metrics:      noopSink{},
	}
}

// Default returns the process-wide default logger, created once.
func Default() *Logger {
	defaultOnce.Do(func() { defaultLogger = New("htncore") })
	return defaultLogger
}

// WithMetrics attaches a metrics sink; returns the same logger for chaining.
func (l *Logger) WithMetrics(sink MetricsSink) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sink != nil {
		l.metrics = sink
	}
	return l
}

func (l *Logger) Info(msg string, fields map[string]any)  { l.log("INFO", msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log("WARN", msg, fields) }
func (l *Logger) Debug(msg string, fields map[string]any) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

// Error logs at ERROR level. It is rate-limited: under sustained
// failure from a misbehaving action callable this prevents log
// flooding while still letting the task failure itself propagate
// normally through the executor.
func (l *Logger) Error(msg string, fields map[string]any) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

func (l *Logger) log(level, msg string, fields map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(ts, level, msg, fields)
	} else {
		l.logText(ts, level, msg, fields)
	}
	l.metrics.IncLogEvent(level, l.service)
}

func (l *Logger) logJSON(ts, level, msg string, fields map[string]any) {
	entry := map[string]any{
		"timestamp": ts,
		"level":     level,
		"service":   l.service,
		"message":   msg,
	}
	for k, v := range fields {
		if _, reserved := entry[k]; !reserved {
			entry[k] = v
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *Logger) logText(ts, level, msg string, fields map[string]any) {
	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", ts, level, l.service, msg, b.String())
}

func (l *Logger) shouldLog(level string) bool {
	order := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	cur, ok1 := order[l.level]
	msg, ok2 := order[level]
	if !ok1 || !ok2 {
		return true
	}
	return msg >= cur
}

// SetOutput redirects the logger, primarily for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// SetLevel changes the minimum level logged.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}
