package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the settings file: it creates it with defaults, hands out
// snapshots, persists updates and reloads external edits.
type Manager struct {
	path         string
	mu           sync.RWMutex
	settings     Settings
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	onChange     func(Settings)
	suppressSelf atomic.Bool
}

type managerOptions struct {
	path     string
	initial  *Settings
	debounce time.Duration
}

type ManagerOption func(*managerOptions)

func WithSettingsPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.path = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialSettings is written when no settings file exists yet.
func WithInitialSettings(s Settings) ManagerOption {
	return func(o *managerOptions) {
		o.initial = &s
	}
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		path:     filepath.Join("data", "settings.json"),
		debounce: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := os.MkdirAll(filepath.Dir(options.path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s, err := loadOrCreate(options)
	if err != nil {
		return nil, err
	}
	return &Manager{path: options.path, settings: s, debounce: options.debounce}, nil
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Clone()
}

func (m *Manager) Path() string { return m.path }

// Update validates, persists and applies new settings.
func (m *Manager) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s = s.Clone().Normalize()

	m.mu.RLock()
	current := m.settings
	m.mu.RUnlock()
	if reflect.DeepEqual(current, s) {
		return nil
	}

	m.suppressSelf.Store(true)
	defer time.AfterFunc(m.debounce, func() { m.suppressSelf.Store(false) })

	if err := writeSettingsFile(m.path, s); err != nil {
		m.suppressSelf.Store(false)
		return err
	}
	m.apply(s)
	return nil
}

// SetAutonomous flips the killswitch and persists it.
func (m *Manager) SetAutonomous(on bool) error {
	s := m.Get()
	s.AutonomousMode = on
	return m.Update(s)
}

// Watch reloads the file after external edits until ctx is done.
func (m *Manager) Watch(ctx context.Context, onChange func(Settings)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	m.mu.Unlock()

	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, m.reloadFromDisk)
		timerMu.Unlock()
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || m.suppressSelf.Load() {
				continue
			}
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				log.Printf("settings watcher error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reloadFromDisk() {
	s, err := readSettingsFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		log.Printf("settings reload failed, keeping current values: %v", err)
		return
	}
	s = s.Normalize()

	m.mu.RLock()
	current := m.settings
	m.mu.RUnlock()
	if reflect.DeepEqual(current, s) {
		return
	}
	log.Printf("Settings reloaded from %s", m.path)
	m.apply(s)
}

func (m *Manager) apply(s Settings) {
	m.mu.Lock()
	m.settings = s
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(s.Clone())
	}
}

func loadOrCreate(o managerOptions) (Settings, error) {
	s, err := readSettingsFile(o.path)
	if err == nil {
		return s.Normalize(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}

	s = DefaultSettings()
	if o.initial != nil {
		s = *o.initial
	}
	s = s.Normalize()
	if err := writeSettingsFile(o.path, s); err != nil {
		return Settings{}, fmt.Errorf("write initial settings: %w", err)
	}
	return s, nil
}

// readSettingsFile decodes over the defaults so keys missing from the file keep their default.
func readSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func writeSettingsFile(path string, s Settings) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&s); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("flush settings: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp settings: %w", err)
	}
	return os.Rename(tmpFile.Name(), path)
}
