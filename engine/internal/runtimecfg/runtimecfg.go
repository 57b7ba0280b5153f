// Package runtimecfg watches the bootstrap config's Telemetry/Retainer/
// Reconnect blocks for changes and emits them as they're written, so the
// engine doesn't need a process restart to pick up a new retainer policy or
// backoff window. Adapted from the teacher's
// engine/internal/runtime.RuntimeConfigManager/HotReloadSystem: the same
// fsnotify-driven watch loop and checksum-gated change detection, narrowed
// to the three config blocks spec.md's runtime actually has. The teacher's
// ConfigVersionManager (on-disk version history/rollback) and
// ABTestingFramework (traffic-split experiment config) have no spec.md
// counterpart and are not carried forward — see DESIGN.md.
package runtimecfg

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Update is one parsed revision of the watched file, keyed by the same
// top-level YAML sections as engine.Config (telemetry/retainer/reconnect).
// Sections are carried as raw nodes rather than typed structs so this
// package doesn't need to import engine (which in turn imports this
// package's sibling engine/internal/retain for DropPolicy parsing).
type Update struct {
	Telemetry yaml.Node
	Retainer  yaml.Node
	Reconnect yaml.Node
	Checksum  string
	LoadedAt  time.Time
}

type fileShape struct {
	Telemetry yaml.Node `yaml:"telemetry"`
	Retainer  yaml.Node `yaml:"retainer"`
	Reconnect yaml.Node `yaml:"reconnect"`
}

// Decode unmarshals section into v, e.g. Decode(u.Retainer, &cfg.Retainer).
func (u Update) Decode(section yaml.Node, v any) error {
	if section.Kind == 0 {
		return nil
	}
	return section.Decode(v)
}

// Manager polls a config file's mtime-triggered writes via fsnotify and
// exposes each distinct revision as an Update.
type Manager struct {
	path string

	mu      sync.RWMutex
	current Update
	watcher *fsnotify.Watcher
	watching bool
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads path once, synchronously, for use at startup before Watch
// begins streaming subsequent revisions.
func (m *Manager) Load() (Update, error) {
	u, err := m.loadFromFile()
	if err != nil {
		return Update{}, err
	}
	m.mu.Lock()
	m.current = u
	m.mu.Unlock()
	return u, nil
}

func (m *Manager) Current() Update {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) loadFromFile() (Update, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Update{LoadedAt: time.Now()}, nil
		}
		return Update{}, fmt.Errorf("read runtime config %s: %w", m.path, err)
	}
	var fs fileShape
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return Update{}, fmt.Errorf("parse runtime config %s: %w", m.path, err)
	}
	sum := sha256.Sum256(data)
	return Update{
		Telemetry: fs.Telemetry,
		Retainer:  fs.Retainer,
		Reconnect: fs.Reconnect,
		Checksum:  fmt.Sprintf("%x", sum),
		LoadedAt:  time.Now(),
	}, nil
}

// Watch starts an fsnotify watch on the config file's directory and emits
// an Update each time the file's content checksum changes. The returned
// channels close when ctx is cancelled or the watch cannot be established.
func (m *Manager) Watch(ctx context.Context) (<-chan Update, <-chan error) {
	updates := make(chan Update, 4)
	errs := make(chan error, 4)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errs <- fmt.Errorf("create file watcher: %w", err)
		close(updates)
		close(errs)
		return updates, errs
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		errs <- fmt.Errorf("watch dir %s: %w", dir, err)
		close(updates)
		close(errs)
		return updates, errs
	}

	m.mu.Lock()
	m.watcher = watcher
	m.watching = true
	m.mu.Unlock()

	go func() {
		defer close(updates)
		defer close(errs)
		defer func() {
			m.mu.Lock()
			m.watching = false
			m.mu.Unlock()
			_ = watcher.Close()
		}()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				u, err := m.loadFromFile()
				if err != nil {
					errs <- err
					continue
				}
				m.mu.Lock()
				changed := u.Checksum != m.current.Checksum
				if changed {
					m.current = u
				}
				m.mu.Unlock()
				if changed {
					updates <- u
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, errs
}

// Stop tears down the fsnotify watch if one is active. Safe to call even if
// Watch was never called.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.watching || m.watcher == nil {
		return nil
	}
	m.watching = false
	return m.watcher.Close()
}
