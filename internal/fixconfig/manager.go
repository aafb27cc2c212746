package fixconfig

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fixline/engine/internal/logger"
)

// Manager owns the current EngineConfig and, once Watch is called,
// reloads the whole file when it changes and hands the new config to the
// Watch callback. Applying a reloaded config to running sessions is left
// to that callback; the Manager itself changes no session.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *EngineConfig

	watcher  *fsnotify.Watcher
	onReload func(*EngineConfig)
}

// NewManager loads path immediately and returns a Manager wrapping it.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// Current returns the most recently loaded configuration.
func (m *Manager) Current() *EngineConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch starts an fsnotify watch on the config file; on each write event
// it reloads and, if reload succeeds, invokes onChange with the new
// config. Reload failures are logged and the previous config is kept, so
// a bad edit never tears down a running engine.
func (m *Manager) Watch(onChange func(*EngineConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.path); err != nil {
		w.Close()
		return err
	}
	m.watcher = w
	m.onReload = onChange

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("fixconfig: watch error", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		logger.Warn("fixconfig: reload failed, keeping previous config", "path", m.path, "error", err)
		return
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	if m.onReload != nil {
		m.onReload(cfg)
	}
}

// Close stops the watcher, if one was started.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	return m.watcher.Close()
}
