package daemon

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/lmx-project/lmx/internal/domain"
)

// stateFileName is the on-disk record of the last shutdown, consulted at
// startup to decide whether loaded models should be restored. Persistence
// follows the same write-temp-then-rename idiom used by
// internal/infra/compatregistry for its append-only log.
const stateFileName = "runtime_state.json"

func statePath(lmxHome string) string {
	return filepath.Join(lmxHome, stateFileName)
}

// loadRuntimeState reads the last-persisted state, or the zero value
// (LastCleanShutdown: false) if none exists yet — which is the conservative
// "treat this as a crash recovery" default for a brand-new install.
func loadRuntimeState(path string) domain.RuntimeState {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RuntimeState{}
	}
	var st domain.RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("[daemon] runtime state at %s is corrupt, ignoring: %v", path, err)
		return domain.RuntimeState{}
	}
	return st
}

func saveRuntimeState(path string, st domain.RuntimeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".runtime_state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// stateTracker keeps runtime_state.json in sync with the set of currently
// loaded models, marking the file "dirty" (LastCleanShutdown: false) on
// every change so an unclean stop (crash, kill -9) leaves behind an
// accurate list of what to restore. markClean flips the flag back on a
// graceful Close.
type stateTracker struct {
	mu     sync.Mutex
	path   string
	loaded map[string]struct{}
}

func newStateTracker(lmxHome string) *stateTracker {
	return &stateTracker{
		path:   statePath(lmxHome),
		loaded: make(map[string]struct{}),
	}
}

// onEvent is called from the eventbus subscription loop that Daemon.Serve
// runs, for "model_loaded" and "model_unloaded" events.
func (t *stateTracker) onEvent(eventType string, data map[string]any) {
	modelID, _ := data["model_id"].(string)
	if modelID == "" {
		return
	}
	t.mu.Lock()
	switch eventType {
	case "model_loaded":
		t.loaded[modelID] = struct{}{}
	case "model_unloaded":
		delete(t.loaded, modelID)
	default:
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked(false)
	t.mu.Unlock()

	if err := saveRuntimeState(t.path, snapshot); err != nil {
		log.Printf("[daemon] persist runtime state failed: %v", err)
	}
}

func (t *stateTracker) snapshotLocked(clean bool) domain.RuntimeState {
	ids := make([]string, 0, len(t.loaded))
	for id := range t.loaded {
		ids = append(ids, id)
	}
	return domain.RuntimeState{LastCleanShutdown: clean, LoadedModels: ids}
}

// markClean persists the current loaded-model set with the clean-shutdown
// flag set, called from Daemon.Close.
func (t *stateTracker) markClean() {
	t.mu.Lock()
	snapshot := t.snapshotLocked(true)
	t.mu.Unlock()

	if err := saveRuntimeState(t.path, snapshot); err != nil {
		log.Printf("[daemon] persist runtime state failed: %v", err)
	}
}
