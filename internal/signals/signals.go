// Package signals handles out-of-band control via the .convoy directory.
// Cancellation requests are files in .convoy/signals: a file named
// cancel-<taskID> asks the engine to cancel that task, and kill asks the
// whole run to stop. File-based signalling lets operators and external
// tooling reach a running engine without an RPC surface.
package signals

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const cancelPrefix = "cancel-"

// Manager watches the signals directory and records received signals.
type Manager struct {
	convoyDir string

	mu         sync.RWMutex
	stopSignal bool
	cancelled  map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager creates a signal manager rooted at the given project path.
// When the fsnotify watcher cannot start, the manager still works via the
// stat fallback in the query methods.
func NewManager(projectRoot string) (*Manager, error) {
	convoyDir := filepath.Join(projectRoot, ".convoy")
	if err := os.MkdirAll(filepath.Join(convoyDir, "signals"), 0755); err != nil {
		return nil, err
	}

	m := &Manager{
		convoyDir: convoyDir,
		cancelled: make(map[string]bool),
		done:      make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m, nil
	}
	if err := watcher.Add(filepath.Join(convoyDir, "signals")); err != nil {
		watcher.Close()
		return m, nil
	}
	m.watcher = watcher
	go m.watch()

	return m, nil
}

// watch records kill and cancel files as they appear.
func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			m.mu.Lock()
			if base == "kill" {
				m.stopSignal = true
			} else if taskID, ok := strings.CutPrefix(base, cancelPrefix); ok {
				m.cancelled[taskID] = true
			}
			m.mu.Unlock()
		case <-m.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// RequestCancel creates a cancel signal file for the task.
func (m *Manager) RequestCancel(taskID string) error {
	path := filepath.Join(m.convoyDir, "signals", cancelPrefix+taskID)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// RequestStop creates the kill signal file.
func (m *Manager) RequestStop() error {
	path := filepath.Join(m.convoyDir, "signals", "kill")
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Cancelled reports whether a cancel signal exists for the task. The file
// is checked directly in case the watcher missed the event.
func (m *Manager) Cancelled(taskID string) bool {
	path := filepath.Join(m.convoyDir, "signals", cancelPrefix+taskID)
	if _, err := os.Stat(path); err == nil {
		m.mu.Lock()
		m.cancelled[taskID] = true
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancelled[taskID]
}

// ShouldStop reports whether the kill signal has been received.
func (m *Manager) ShouldStop() bool {
	if _, err := os.Stat(filepath.Join(m.convoyDir, "signals", "kill")); err == nil {
		m.mu.Lock()
		m.stopSignal = true
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopSignal
}

// Clear removes all signal files and resets recorded state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopSignal = false
	m.cancelled = make(map[string]bool)

	dir := filepath.Join(m.convoyDir, "signals")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(dir, e.Name()))
	}
}

// ConvoyDir returns the path to the .convoy directory.
func (m *Manager) ConvoyDir() string {
	return m.convoyDir
}

// Close shuts down the watcher.
func (m *Manager) Close() {
	close(m.done)
	if m.watcher != nil {
		m.watcher.Close()
	}
}
