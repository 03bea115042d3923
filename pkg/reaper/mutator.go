package reaper

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/GhrammR/the-janitor/pkg/cache"
	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/parser"
)

// TrashDirName is the backup root created under the project root.
const TrashDirName = ".janitor_trash"

var (
	// ErrConcurrentModification means a file changed between analysis and
	// mutation; the session aborts before any write.
	ErrConcurrentModification = errors.New("file modified since analysis")

	// ErrBackupFailed aborts the session before the target is modified.
	ErrBackupFailed = errors.New("backup failed")

	// ErrSessionActive refuses a second concurrent mutation session.
	ErrSessionActive = errors.New("another mutation session is in progress")

	// ErrWriteFailed signals a failed write to an already-backed-up file;
	// callers must RestoreAll.
	ErrWriteFailed = errors.New("mutation write failed")
)

// Mutator owns the backup directory for the lifetime of one mutation
// session: backup on first touch, splice, and either commit or restore.
type Mutator struct {
	root       string
	sessionID  string
	sessionDir string
	manifest   *Manifest

	// analysis-time content hashes, guarding against concurrent edits
	hashes map[string]string

	backedUp map[string]bool
}

// NewSession starts a mutation session, refusing to start while another
// session on the same project is still pending.
func NewSession(root string, analysisHashes map[string]string) (*Mutator, error) {
	trashRoot := filepath.Join(root, TrashDirName)
	if err := os.MkdirAll(trashRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create trash directory: %w", err)
	}

	if active, err := activeSession(trashRoot); err == nil && active != "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, active)
	}

	sessionID := newSessionID()
	sessionDir := filepath.Join(trashRoot, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	manifest, err := LoadManifest(sessionDir, sessionID)
	if err != nil {
		return nil, err
	}

	return &Mutator{
		root:       root,
		sessionID:  sessionID,
		sessionDir: sessionDir,
		manifest:   manifest,
		hashes:     analysisHashes,
		backedUp:   make(map[string]bool),
	}, nil
}

// SessionID returns the session identifier.
func (m *Mutator) SessionID() string {
	return m.sessionID
}

// Manifest exposes the session manifest.
func (m *Mutator) Manifest() *Manifest {
	return m.manifest
}

func newSessionID() string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	return time.Now().Format("20060102_150405") + "_" + hex.EncodeToString(suffix)
}

// activeSession returns the id of any session whose manifest is still
// pending.
func activeSession(trashRoot string) (string, error) {
	entries, err := os.ReadDir(trashRoot)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(trashRoot, entry.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		if strings.Contains(string(data), `"status": "pending"`) {
			return entry.Name(), nil
		}
	}
	return "", nil
}

// DeleteSymbols splices the given entities out of their files, bottom to
// top within each file, sweeping orphaned imports afterwards. The hash of
// every target is checked against its analysis-time hash before any write.
func (m *Mutator) DeleteSymbols(targets map[string][]extract.Entity) error {
	// Verify every file first: a concurrent modification aborts the
	// session before any write happens anywhere.
	for path := range targets {
		if err := m.checkUnmodified(path); err != nil {
			return err
		}
	}

	removedNames := make(map[string]bool)
	for _, entities := range targets {
		for _, e := range entities {
			removedNames[e.Name] = true
		}
	}

	paths := make([]string, 0, len(targets))
	for path := range targets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := m.spliceFile(path, targets[path], removedNames); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFiles moves whole files (orphans) into the session backup.
func (m *Mutator) DeleteFiles(paths []string) error {
	for _, path := range paths {
		if err := m.checkUnmodified(path); err != nil {
			return err
		}
	}
	for _, path := range paths {
		if err := m.backup(path, true); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
		}
	}
	return nil
}

func (m *Mutator) checkUnmodified(path string) error {
	expected, ok := m.hashes[path]
	if !ok {
		return nil
	}
	current, err := cache.FileHash(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConcurrentModification, path, err)
	}
	if current != expected {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, path)
	}
	return nil
}

// backup copies a file into the session directory, mirroring its relative
// path, on first touch only.
func (m *Mutator) backup(path string, deleted bool) error {
	if m.backedUp[path] {
		return nil
	}

	rel, err := filepath.Rel(m.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	backupPath := filepath.Join(m.sessionDir, rel)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrBackupFailed, path, err)
	}
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	if err := atomicWrite(backupPath, data); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	if err := m.manifest.Add(ManifestEntry{
		Original:  path,
		Backup:    backupPath,
		Hash:      cache.HashBytes(data),
		Timestamp: time.Now(),
		Deleted:   deleted,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	m.backedUp[path] = true
	return nil
}

// spliceFile removes entity byte ranges from one file, highest offset
// first, then sweeps imports that reference only removed names.
func (m *Mutator) spliceFile(path string, entities []extract.Entity, removedNames map[string]bool) error {
	if err := m.backup(path, false); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}

	sorted := make([]extract.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SpanStartByte > sorted[j].SpanStartByte
	})

	for _, e := range sorted {
		start, end, ok := snapRange(data, e.SpanStartByte, e.EndByte)
		if !ok {
			// Splicing would cross a non-character boundary; skip the
			// entity rather than corrupt the file.
			continue
		}
		data = append(data[:start:start], data[end:]...)
	}

	data = sweepOrphanImports(data, parser.DetectLanguage(path), removedNames)

	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	return nil
}

// snapRange clamps and snaps a byte range onto UTF-8 character boundaries.
func snapRange(data []byte, start, end uint32) (uint32, uint32, bool) {
	size := uint32(len(data))
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}

	snap := func(pos uint32) (uint32, bool) {
		for i := uint32(0); i <= 3; i++ {
			if pos < i {
				return 0, true
			}
			p := pos - i
			if p == size || data[p]&0xC0 != 0x80 {
				return p, true
			}
		}
		return 0, false
	}

	s, ok := snap(start)
	if !ok {
		return 0, 0, false
	}
	e, ok := snap(end)
	if !ok {
		return 0, 0, false
	}
	if e < s {
		e = s
	}
	return s, e, true
}

var (
	pyFromImportLine = regexp.MustCompile(`^\s*from\s+[\w\.]+\s+import\s+(.+?)\s*$`)
	pyImportLine     = regexp.MustCompile(`^\s*import\s+([\w\.]+(?:\s*,\s*[\w\.]+)*)\s*$`)
	jsImportLine     = regexp.MustCompile(`^\s*import\s+\{([^}]*)\}\s+from\s+.+$`)
	jsRequireLine    = regexp.MustCompile(`^\s*(?:const|let|var)\s+(\w+)\s*=\s*require\(.+$`)
)

// sweepOrphanImports drops import statements that, after splicing,
// reference only removed names. The sweep is line-based and preserves
// original line terminators on every surviving line.
func sweepOrphanImports(data []byte, lang parser.Language, removedNames map[string]bool) []byte {
	if len(removedNames) == 0 {
		return data
	}

	lines := splitKeepEndings(data)
	kept := make([][]byte, 0, len(lines))

	for _, line := range lines {
		text := strings.TrimRight(string(line), "\r\n")

		var names []string
		switch {
		case lang == parser.LangPython:
			if match := pyFromImportLine.FindStringSubmatch(text); match != nil {
				names = splitImportList(match[1])
			} else if match := pyImportLine.FindStringSubmatch(text); match != nil {
				for _, module := range splitImportList(match[1]) {
					parts := strings.Split(module, ".")
					names = append(names, parts[len(parts)-1])
				}
			}
		case lang.IsJS():
			if match := jsImportLine.FindStringSubmatch(text); match != nil {
				names = splitImportList(match[1])
			} else if match := jsRequireLine.FindStringSubmatch(text); match != nil {
				names = []string{match[1]}
			}
		}

		if len(names) > 0 && allRemoved(names, removedNames) {
			continue
		}
		kept = append(kept, line)
	}

	var out []byte
	for _, line := range kept {
		out = append(out, line...)
	}
	return out
}

func splitImportList(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		name := strings.TrimSpace(part)
		// "x as y" binds y locally.
		if idx := strings.Index(name, " as "); idx >= 0 {
			name = strings.TrimSpace(name[idx+4:])
		}
		if name != "" && name != "(" && name != ")" {
			names = append(names, name)
		}
	}
	return names
}

func allRemoved(names []string, removed map[string]bool) bool {
	for _, name := range names {
		if !removed[name] {
			return false
		}
	}
	return true
}

func splitKeepEndings(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// atomicWrite writes via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".janitor-tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RestoreAll copies every backup back to its original path. Restoration is
// idempotent and partial-success tolerant: a failure on one file does not
// abort the rest.
func (m *Mutator) RestoreAll() error {
	var failures []string
	for _, entry := range m.manifest.Entries {
		data, err := os.ReadFile(entry.Backup)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Original, err))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(entry.Original), 0o755); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Original, err))
			continue
		}
		if err := atomicWrite(entry.Original, data); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", entry.Original, err))
		}
	}

	if err := m.manifest.SetStatus(StatusRolledBack); err != nil {
		failures = append(failures, fmt.Sprintf("manifest: %v", err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to restore some files:\n%s", strings.Join(failures, "\n"))
	}
	return nil
}

// Commit finalises the session: the manifest is persisted as committed and
// the backups are removed.
func (m *Mutator) Commit() error {
	if err := m.manifest.SetStatus(StatusCommitted); err != nil {
		return err
	}
	// The manifest survives as the session record; file mirrors go.
	for _, entry := range m.manifest.Entries {
		_ = os.Remove(entry.Backup)
	}
	return nil
}
