package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured JSON logging with optional PII redaction.
type Logger struct {
	level     Level
	mu        sync.Mutex
	redactPII bool
	out       io.Writer
}

var defaultLogger = &Logger{level: INFO, redactPII: true, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII = r }

// SetOutput redirects the default logger. Tests use it to capture entries.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, nil, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, nil, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, nil, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, nil, fields...) }

// Entry is a child logger carrying fixed key-value pairs, typically a
// component name.
type Entry struct {
	base   []interface{}
	parent *Logger
}

// With returns a child of the default logger that prefixes every entry
// with the given key-value pairs.
func With(fields ...interface{}) *Entry {
	return &Entry{base: fields, parent: defaultLogger}
}

// With returns a child that carries e's fields plus the given ones.
func (e *Entry) With(fields ...interface{}) *Entry {
	base := make([]interface{}, 0, len(e.base)+len(fields))
	base = append(base, e.base...)
	base = append(base, fields...)
	return &Entry{base: base, parent: e.parent}
}

func (e *Entry) Debug(msg string, fields ...interface{}) { e.parent.log(DEBUG, msg, e.base, fields...) }
func (e *Entry) Info(msg string, fields ...interface{})  { e.parent.log(INFO, msg, e.base, fields...) }
func (e *Entry) Warn(msg string, fields ...interface{})  { e.parent.log(WARN, msg, e.base, fields...) }
func (e *Entry) Error(msg string, fields ...interface{}) { e.parent.log(ERROR, msg, e.base, fields...) }

func (l *Logger) log(level Level, msg string, base []interface{}, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	l.addFields(entry, base)
	l.addFields(entry, fields)

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// addFields parses key-value pairs; a trailing odd key is dropped.
func (l *Logger) addFields(entry map[string]interface{}, fields []interface{}) {
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "email") || strings.Contains(key, "recipient"):
		return RedactEmail(val)
	case strings.Contains(key, "token") || strings.Contains(key, "secret"):
		return RedactSecret(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
