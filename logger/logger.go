// Package logger defines the minimal structured logging contract shared by
// the dynoris packages. Provide an adapter around your logging stack; the
// zap, logrus and slog adapters live in subpackages.
package logger

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger. If nil is configured anywhere, Nop is used.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}
