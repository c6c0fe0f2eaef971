package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// expandEnv substitutes ${VAR} and ${VAR:default} references. Unset
// variables without a default expand to the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, _ := strings.Cut(ref, ":")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return fallback
	})
}

// LoadFile reads one YAML file, expands env references, and unmarshals
// into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader owns the three config files (semroute.yaml, catalog.yaml,
// providers.yaml) and hot-reloads them on change. A reload that fails
// validation keeps the previous snapshot in place.
type Loader struct {
	configDir string
	logger    *slog.Logger

	mu        sync.RWMutex
	cfg       *Config
	catalog   *CatalogConfig
	providers *ProvidersConfig

	watchers []func()
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{configDir: configDir, logger: logger}
}

// Load reads and validates all three files, then swaps them in as one
// snapshot.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(l.configDir+"/semroute.yaml", cfg); err != nil {
		return fmt.Errorf("load semroute config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate semroute config: %w", err)
	}

	catalog := &CatalogConfig{}
	if err := LoadFile(l.configDir+"/catalog.yaml", catalog); err != nil {
		return fmt.Errorf("load catalog config: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("validate catalog config: %w", err)
	}

	providers := &ProvidersConfig{}
	if err := LoadFile(l.configDir+"/providers.yaml", providers); err != nil {
		return fmt.Errorf("load providers config: %w", err)
	}

	l.mu.Lock()
	l.cfg, l.catalog, l.providers = cfg, catalog, providers
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir, "models", len(catalog.Models))
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Catalog() *CatalogConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.catalog
}

func (l *Loader) Providers() *ProvidersConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers
}

// OnReload registers a callback fired after every successful reload.
// Register before calling Watch.
func (l *Loader) OnReload(fn func()) {
	l.watchers = append(l.watchers, fn)
}

// Watch reloads when any file in the config directory is written.
// Writes are debounced because editors and kubelet both emit bursts of
// events for a single save.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go l.watchLoop(watcher)
	return nil
}

func (l *Loader) watchLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.logger.Info("config file changed", "file", event.Name)
				timer.Reset(debounce)
			}
		case <-timer.C:
			if err := l.Load(); err != nil {
				l.logger.Error("failed to reload config, keeping previous", "error", err)
				continue
			}
			for _, fn := range l.watchers {
				fn()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}
