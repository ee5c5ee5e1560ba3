package flyport

import "sync"

// Logger is the structured logger used by every component in this package.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// logHolder gives a component an optional, swappable logger. All helpers
// are no-ops while no logger is set.
type logHolder struct {
	mu     sync.RWMutex
	logger Logger
}

// SetLogger sets or replaces the logger.
func (h *logHolder) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *logHolder) get() Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.logger
}

func (h *logHolder) logDebug(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (h *logHolder) logInfo(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (h *logHolder) logWarn(msg string, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (h *logHolder) logError(msg string, err error, keysAndValues ...any) {
	if l := h.get(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
