// Package cache is the content-hashed persistent store for per-file parse
// artifacts and the whole-project analysis result. Rows are validated by an
// mtime+size pre-check followed by a full content hash on mismatch; stale
// rows stop being read when the hash changes and are never proactively
// evicted.
package cache

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/refs"
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// DirName is the cache directory created under the project root.
const DirName = ".janitor_cache"

// Store is the on-disk analysis cache. Readers tolerate concurrent runs on
// the same project; writers serialise through SQLite's WAL journal with a
// five second busy timeout.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS file_metadata (
  file_path TEXT PRIMARY KEY,
  mtime INTEGER NOT NULL,
  size INTEGER NOT NULL,
  content_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS symbol_definitions (
  file_path TEXT PRIMARY KEY,
  symbol_data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS file_references (
  file_path TEXT PRIMARY KEY,
  reference_data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS file_dependencies (
  file_path TEXT PRIMARY KEY,
  dependencies TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metaprogramming_danger (
  file_path TEXT PRIMARY KEY,
  is_dangerous INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_result (
  project_hash TEXT PRIMARY KEY,
  dead_symbols TEXT NOT NULL,
  orphan_files TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_metadata_hash ON file_metadata(content_hash);
`

// Open opens (creating if needed) the cache at <root>/.janitor_cache/analysis.db.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	path := filepath.Join(dir, "analysis.db")

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open analysis cache %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping analysis cache %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}

	return &Store{path: path, db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FileHash computes the BLAKE3 content hash of a file.
func FileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes computes a BLAKE3 hash as a hex string.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validRow reports whether the cached row for path still describes the
// file on disk: mtime+size pre-check first, full content hash on mismatch.
func (s *Store) validRow(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	var mtime, size int64
	var hash string
	err = s.db.QueryRow(
		`SELECT mtime, size, content_hash FROM file_metadata WHERE file_path = ?`, path,
	).Scan(&mtime, &size, &hash)
	if err != nil {
		return false
	}

	if mtime == info.ModTime().UnixNano() && size == info.Size() {
		return true
	}

	current, err := FileHash(path)
	if err != nil || current != hash {
		return false
	}

	// Content unchanged despite a touched mtime: refresh the metadata row.
	s.mu.Lock()
	_, _ = s.db.Exec(
		`UPDATE file_metadata SET mtime = ?, size = ? WHERE file_path = ?`,
		info.ModTime().UnixNano(), info.Size(), path,
	)
	s.mu.Unlock()
	return true
}

// touch upserts the metadata row for a file about to be cached.
func (s *Store) touch(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	hash, err := FileHash(path)
	if err != nil {
		return false
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO file_metadata (file_path, mtime, size, content_hash)
		 VALUES (?, ?, ?, ?)`,
		path, info.ModTime().UnixNano(), info.Size(), hash,
	)
	return err == nil
}

func (s *Store) readJSONRow(table, column, path string, out any) bool {
	if !s.validRow(path) {
		return false
	}
	var data string
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM %s WHERE file_path = ?`, column, table), path,
	).Scan(&data)
	if err != nil {
		return false
	}
	// Corrupt rows count as misses: recompute and overwrite.
	return json.Unmarshal([]byte(data), out) == nil
}

func (s *Store) writeJSONRow(table, column, path string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.touch(path) {
		return
	}
	_, _ = s.db.Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s (file_path, %s) VALUES (?, ?)`, table, column),
		path, string(data),
	)
}

// Definitions returns the cached entity list for a file.
func (s *Store) Definitions(path string) ([]extract.Entity, bool) {
	var entities []extract.Entity
	if !s.readJSONRow("symbol_definitions", "symbol_data", path, &entities) {
		return nil, false
	}
	return entities, true
}

// StoreDefinitions caches the entity list for a file.
func (s *Store) StoreDefinitions(path string, entities []extract.Entity) {
	s.writeJSONRow("symbol_definitions", "symbol_data", path, entities)
}

// Candidates returns the cached pre-resolution reference list for a file,
// sufficient to replay resolution without re-parsing.
func (s *Store) Candidates(path string) ([]refs.Candidate, bool) {
	var candidates []refs.Candidate
	if !s.readJSONRow("file_references", "reference_data", path, &candidates) {
		return nil, false
	}
	return candidates, true
}

// StoreCandidates caches the candidate reference list for a file.
func (s *Store) StoreCandidates(path string, candidates []refs.Candidate) {
	s.writeJSONRow("file_references", "reference_data", path, candidates)
}

// Dependencies returns the cached dependency edges for a file.
func (s *Store) Dependencies(path string) ([]string, bool) {
	var deps []string
	if !s.readJSONRow("file_dependencies", "dependencies", path, &deps) {
		return nil, false
	}
	return deps, true
}

// StoreDependencies caches the dependency edges for a file.
func (s *Store) StoreDependencies(path string, deps []string) {
	if deps == nil {
		deps = []string{}
	}
	s.writeJSONRow("file_dependencies", "dependencies", path, deps)
}

// Danger returns the cached metaprogramming-danger flag for a file.
func (s *Store) Danger(path string) (dangerous, ok bool) {
	if !s.validRow(path) {
		return false, false
	}
	var flag int
	err := s.db.QueryRow(
		`SELECT is_dangerous FROM metaprogramming_danger WHERE file_path = ?`, path,
	).Scan(&flag)
	if err != nil {
		return false, false
	}
	return flag != 0, true
}

// StoreDanger caches the metaprogramming-danger flag for a file.
func (s *Store) StoreDanger(path string, dangerous bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.touch(path) {
		return
	}
	flag := 0
	if dangerous {
		flag = 1
	}
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO metaprogramming_danger (file_path, is_dangerous) VALUES (?, ?)`,
		path, flag,
	)
}

// ProjectHash fingerprints the current state of the relevant file set from
// each file's path, mtime, and size.
func (s *Store) ProjectHash(files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	digest := xxhash.New()
	for _, path := range sorted {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(digest, "%s:%d:%d|", path, info.ModTime().UnixNano(), info.Size())
	}
	return fmt.Sprintf("%016x", digest.Sum64())
}

// ProjectResult is the cached whole-project analysis output.
type ProjectResult struct {
	DeadSymbols []extract.Entity `json:"dead_symbols"`
	Orphans     []string         `json:"orphans"`
}

// ProjectResultFor returns the cached whole-project result for a hash.
func (s *Store) ProjectResultFor(hash string) (*ProjectResult, bool) {
	var deadData, orphanData string
	err := s.db.QueryRow(
		`SELECT dead_symbols, orphan_files FROM analysis_result WHERE project_hash = ?`, hash,
	).Scan(&deadData, &orphanData)
	if err != nil {
		return nil, false
	}

	var result ProjectResult
	if json.Unmarshal([]byte(deadData), &result.DeadSymbols) != nil {
		return nil, false
	}
	if json.Unmarshal([]byte(orphanData), &result.Orphans) != nil {
		return nil, false
	}
	return &result, true
}

// StoreProjectResult caches the whole-project result under a hash.
func (s *Store) StoreProjectResult(hash string, result *ProjectResult) {
	deadData, err := json.Marshal(result.DeadSymbols)
	if err != nil {
		return
	}
	orphans := result.Orphans
	if orphans == nil {
		orphans = []string{}
	}
	orphanData, err := json.Marshal(orphans)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO analysis_result (project_hash, dead_symbols, orphan_files, created_at)
		 VALUES (?, ?, ?, ?)`,
		hash, string(deadData), string(orphanData), time.Now().Unix(),
	)
}

// Stats summarises cache contents.
type Stats struct {
	Files        int `json:"files"`
	Definitions  int `json:"definitions"`
	References   int `json:"references"`
	Dependencies int `json:"dependencies"`
	Danger       int `json:"danger"`
	Results      int `json:"results"`
}

// GetStats returns row counts per table.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dest  *int
	}{
		{"file_metadata", &stats.Files},
		{"symbol_definitions", &stats.Definitions},
		{"file_references", &stats.References},
		{"file_dependencies", &stats.Dependencies},
		{"metaprogramming_danger", &stats.Danger},
		{"analysis_result", &stats.Results},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + c.table).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// Clear removes all cached rows.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{
		"symbol_definitions", "file_references", "file_dependencies",
		"metaprogramming_danger", "analysis_result", "file_metadata",
	} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return nil
}
