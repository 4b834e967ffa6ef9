package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "albumbot/pkg/logx"
)

// Manager hands out the live batching knobs (threshold/delay) and applies
// overrides from an optional YAML file while the bot runs. Everything else
// in Config is fixed at startup.
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	log logx.Logger
}

// overrides is the YAML overrides file schema.
//
// Example:
//
//	threshold: 8
//	delay_seconds: 5.0
type overrides struct {
	Threshold    *int     `yaml:"threshold"`
	DelaySeconds *float64 `yaml:"delay_seconds"`
}

func NewManager(cfg *Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{cfg: *cfg, log: log}
	if cfg.OverridesFile != "" {
		// Apply once at startup; Watch keeps it fresh afterwards.
		if err := m.reload(); err != nil && !os.IsNotExist(err) {
			log.Warn("config overrides not applied", logx.String("path", cfg.OverridesFile), logx.Err(err))
		}
	}
	return m
}

// Snapshot returns a copy of the current effective config.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Threshold returns the live dispatch threshold.
func (m *Manager) Threshold() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Batching.Threshold
}

// Delay returns the live inactivity delay.
func (m *Manager) Delay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Batching.Delay
}

func (m *Manager) reload() error {
	m.mu.RLock()
	path := m.cfg.OverridesFile
	m.mu.RUnlock()
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o overrides
	if err := yaml.Unmarshal(b, &o); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Threshold != nil {
		m.cfg.Batching.Threshold = ClampThreshold(*o.Threshold)
	}
	if o.DelaySeconds != nil && *o.DelaySeconds > 0 {
		m.cfg.Batching.Delay = time.Duration(*o.DelaySeconds * float64(time.Second))
	}
	m.log.Info("config overrides applied",
		logx.Int("threshold", m.cfg.Batching.Threshold),
		logx.Duration("delay", m.cfg.Batching.Delay))
	return nil
}

// Watch reloads the overrides file whenever it changes. It returns when ctx
// is done (nil) or when the watcher cannot be created. Reloads are debounced
// to avoid acting on partial editor writes.
func (m *Manager) Watch(ctx context.Context) error {
	path := m.Snapshot().OverridesFile
	if path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := m.reload(); err != nil {
				m.log.Warn("config overrides reload failed", logx.String("path", path), logx.Err(err))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Compare by basename (robust across absolute/relative paths).
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					debounce()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
