// Package structlog emits JSON log lines for the incident audit trail. The
// operational path sticks to log.Printf; this logger exists for records that
// downstream audit tooling consumes.
package structlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Fields are structured log attributes.
type Fields map[string]any

// Logger writes one JSON object per line.
type Logger struct {
	service string
	mu      sync.Mutex
	out     io.Writer
	base    Fields
}

// New creates a logger for a service. out defaults to stdout.
func New(service string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{service: service, out: out, base: Fields{}}
}

// WithFields returns a logger carrying additional base fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{service: l.service, out: l.out, base: merged}
}

// Info logs at info level.
func (l *Logger) Info(message string, fields Fields) { l.log("INFO", message, fields) }

// Error logs at error level.
func (l *Logger) Error(message string, fields Fields) { l.log("ERROR", message, fields) }

// Audit logs an immutable audit-trail action.
func (l *Logger) Audit(action string, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	fields["event_type"] = "audit"
	fields["audit_action"] = action
	l.log("INFO", fmt.Sprintf("AUDIT: %s", action), fields)
}

func (l *Logger) log(level, message string, fields Fields) {
	entry := make(Fields, len(l.base)+len(fields)+4)
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["service"] = l.service
	entry["message"] = message

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.out).Encode(entry); err != nil {
		fmt.Fprintf(os.Stderr, "structlog encode: %v\n", err)
	}
}
