package materialize

import (
	"log/slog"
	"sync"
)

// WarnOnce logs each distinct warning key at most once.
//
// Owned by an Engine and injected at construction, so two engines in one
// process keep independent state.
//
// Thread-safety: WarnOnce is safe for concurrent use via internal mutex.
type WarnOnce struct {
	mu     sync.Mutex
	seen   map[string]bool
	logger *slog.Logger
}

// NewWarnOnce creates an empty seen set logging to logger (nil means
// slog.Default()).
func NewWarnOnce(logger *slog.Logger) *WarnOnce {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarnOnce{seen: make(map[string]bool), logger: logger}
}

// Warn logs msg unless key was already warned about. Returns true when the
// warning was emitted.
func (w *WarnOnce) Warn(key, msg string, args ...any) bool {
	w.mu.Lock()
	if w.seen[key] {
		w.mu.Unlock()
		return false
	}
	w.seen[key] = true
	w.mu.Unlock()

	w.logger.Warn(msg, args...)
	return true
}

// Seen reports whether key has been warned about.
func (w *WarnOnce) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen[key]
}
