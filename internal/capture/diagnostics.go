package capture

import (
	"log/slog"
	"sync"
)

// Diagnostics receives user-visible warnings: ordering-assumption violations,
// unsupported-compression notices and queue-consistency mismatches.
// Implementations must not block and must not panic.
type Diagnostics interface {
	Diagnostic(msg string)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(msg string)

// Diagnostic implements Diagnostics.
func (f DiagnosticsFunc) Diagnostic(msg string) { f(msg) }

// LogDiagnostics writes diagnostics to the default slog logger.
type LogDiagnostics struct{}

// Diagnostic implements Diagnostics.
func (LogDiagnostics) Diagnostic(msg string) {
	slog.Warn("capture diagnostic", "msg", msg)
}

// Notifier logs every diagnostic and keeps the most recent ones for display.
// Older entries are dropped when the backlog is full.
type Notifier struct {
	mu      sync.Mutex
	limit   int
	entries []string
}

// NewNotifier creates a Notifier that retains up to limit messages.
func NewNotifier(limit int) *Notifier {
	if limit <= 0 {
		limit = 1
	}
	return &Notifier{limit: limit}
}

// Diagnostic implements Diagnostics.
func (n *Notifier) Diagnostic(msg string) {
	slog.Warn("capture diagnostic", "msg", msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.entries) == n.limit {
		copy(n.entries, n.entries[1:])
		n.entries = n.entries[:n.limit-1]
	}
	n.entries = append(n.entries, msg)
}

// Recent returns a copy of the retained messages, oldest first.
func (n *Notifier) Recent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.entries...)
}
