package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"forllm/internal/domain"
)

// Watch calls onChange with the reloaded config each time the file is
// written. An invalid edit is logged and skipped, so the last good config
// stays in force. Only settings read through onChange take effect; the
// rest need a restart.
func (l *Loader) Watch(logger *zap.Logger, onChange func(*domain.Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			logger.Warn("config reload rejected", zap.String("path", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("path", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}
