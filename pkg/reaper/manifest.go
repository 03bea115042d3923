// Package reaper performs the mutation half of a clean: atomic backups,
// byte-range surgical deletion, test verification, and rollback.
package reaper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Status tracks the lifecycle of a mutation session in the manifest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled-back"
)

// ManifestEntry records one touched file with its pre-mutation hash.
type ManifestEntry struct {
	Original  string    `json:"original"`
	Backup    string    `json:"backup"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`

	// Deleted marks whole-file deletions (orphans) as opposed to in-place
	// symbol excisions.
	Deleted bool `json:"deleted,omitempty"`
}

// Manifest is the session's durable record under the trash directory. It
// is the single source of truth for rollback.
type Manifest struct {
	Version string          `json:"version"`
	Session string          `json:"session"`
	Status  Status          `json:"status"`
	Entries []ManifestEntry `json:"entries"`

	path string
}

// LoadManifest reads a manifest from a session directory, or initialises a
// new one if absent.
func LoadManifest(sessionDir, sessionID string) (*Manifest, error) {
	m := &Manifest{
		Version: "1.0",
		Session: sessionID,
		Status:  StatusPending,
		path:    filepath.Join(sessionDir, "manifest.json"),
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, m.write()
		}
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		// A corrupt manifest is unrecoverable state; refuse to guess.
		return nil, err
	}
	m.path = filepath.Join(sessionDir, "manifest.json")
	return m, nil
}

// Add appends an entry and persists the manifest.
func (m *Manifest) Add(entry ManifestEntry) error {
	m.Entries = append(m.Entries, entry)
	return m.write()
}

// Lookup returns the entry for an original path.
func (m *Manifest) Lookup(original string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Original == original {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// SetStatus records the session outcome.
func (m *Manifest) SetStatus(status Status) error {
	m.Status = status
	return m.write()
}

// write persists atomically: temp file then rename.
func (m *Manifest) write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
