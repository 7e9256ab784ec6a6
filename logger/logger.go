// Package logger defines the logging contract used across the gateway and a
// zap-backed production implementation. Services take a Logger via options
// and default to Noop, so library consumers pay nothing unless they opt in.
package logger

// Logger is the minimal structured logging interface the gateway needs.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Debug(string, map[string]any) {}
func (Noop) Info(string, map[string]any)  {}
func (Noop) Warn(string, map[string]any)  {}
func (Noop) Error(string, map[string]any) {}
