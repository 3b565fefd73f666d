// Package logging tags log lines with the request id and any fields a
// caller attaches, in the "[level] request_id=... operation=..." shape.
package logging

import (
	"context"
	"fmt"
	"log"
	"strings"
)

type requestIDKey struct{}

// WithRequestID stores the request id so services can tag their log lines.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, rid)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		return rid
	}
	return ""
}

type Logger struct {
	requestID string
	fields    string
}

func NewLogger(ctx context.Context) *Logger {
	requestID := RequestID(ctx)
	if requestID == "" {
		requestID = "-"
	}
	return &Logger{requestID: requestID}
}

// With returns a copy that appends key=value to every line.
func (l *Logger) With(key string, value any) *Logger {
	out := *l
	out.fields = fmt.Sprintf("%s %s=%v", l.fields, key, value)
	return &out
}

func (l *Logger) Error(operation string, err error) {
	l.print("error", operation, "error=%v", err)
}

func (l *Logger) Errorf(operation, format string, args ...any) {
	l.print("error", operation, format, args...)
}

func (l *Logger) Warnf(operation, format string, args ...any) {
	l.print("warn", operation, format, args...)
}

func (l *Logger) Infof(operation, format string, args ...any) {
	l.print("info", operation, format, args...)
}

func (l *Logger) print(level, operation, format string, args ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	log.Printf("[%s] request_id=%s operation=%s%s %s", level, l.requestID, operation, l.fields, msg)
}
