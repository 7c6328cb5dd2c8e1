// Package compatregistry implements the append-only compatibility registry
// (C3): a durable log of (model, backend) load outcomes consulted by the
// backend policy. Persistence follows the teacher's
// internal/infra/registry.Manager.Pull pattern of streaming to a ".tmp" path
// and then os.Rename into place — the same crash-safe write-temp-then-rename
// idiom, applied here to a small JSON array instead of a downloaded blob.
package compatregistry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lmx-project/lmx/internal/domain"
)

// Registry is a file-backed, append-only log of CompatibilityRecords.
type Registry struct {
	mu      sync.Mutex
	path    string
	records []domain.CompatibilityRecord
}

// Open loads an existing registry file, or starts empty (logging once) if
// the file is missing or corrupt.
func Open(path string) *Registry {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[compatregistry] read %s failed, starting empty: %v", path, err)
		}
		return r
	}
	var records []domain.CompatibilityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("[compatregistry] %s is corrupt, starting empty: %v", path, err)
		return r
	}
	r.records = records
	return r
}

// Record appends a new compatibility outcome and persists the registry.
func (r *Registry) Record(rec domain.CompatibilityRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.persistLocked()
}

// List returns all records matching the given filters. Empty string means
// "any" for model/backend; outcome == "" means any outcome.
func (r *Registry) List(model, backendTag string, outcome domain.Outcome) []domain.CompatibilityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.CompatibilityRecord
	for _, rec := range r.records {
		if model != "" && rec.ModelID != model {
			continue
		}
		if backendTag != "" && rec.Backend != backendTag {
			continue
		}
		if outcome != "" && rec.Outcome != outcome {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Latest returns the most recent record for a (model, backend) pair,
// selected by highest timestamp, or nil if none exists.
func (r *Registry) Latest(model, backendTag string) *domain.CompatibilityRecord {
	matches := r.List(model, backendTag, "")
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Timestamp.Before(matches[j].Timestamp)
	})
	latest := matches[len(matches)-1]
	return &latest
}

// persistLocked writes the registry to a temp file and renames it into
// place. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".compatregistry-*.tmp")
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
	return os.Rename(tmpPath, r.path)
}
