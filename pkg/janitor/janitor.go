// Package janitor drives the full analysis and mutation cycle: the
// three-phase audit (file graph, entity extraction, reference resolution),
// the shield pipeline, and the mutate-verify-commit loop.
package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/GhrammR/the-janitor/internal/fileproc"
	"github.com/GhrammR/the-janitor/pkg/cache"
	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/configrefs"
	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/graph"
	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/GhrammR/the-janitor/pkg/pipeline"
	"github.com/GhrammR/the-janitor/pkg/reaper"
	"github.com/GhrammR/the-janitor/pkg/refs"
	"github.com/GhrammR/the-janitor/pkg/scanner"
	"github.com/GhrammR/the-janitor/pkg/wisdom"
)

// Janitor owns every transient analysis structure for one project root and
// releases them at run end. The cache store lives for the process.
type Janitor struct {
	root     string
	cfg      *config.Config
	store    *cache.Store
	registry *wisdom.Registry
}

// New creates a janitor for a project root.
func New(root string, cfg *config.Config) (*Janitor, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %q: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	registry, err := wisdom.NewRegistry(cfg.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("load wisdom rules: %w", err)
	}

	j := &Janitor{
		root:     absRoot,
		cfg:      cfg,
		registry: registry,
	}

	if cfg.Cache.Enabled {
		store, err := cache.Open(absRoot)
		if err != nil {
			// A broken cache degrades to uncached analysis.
			store = nil
		}
		j.store = store
	}

	return j, nil
}

// Close releases the cache store.
func (j *Janitor) Close() {
	if j.store != nil {
		_ = j.store.Close()
	}
}

// Root returns the canonical project root.
func (j *Janitor) Root() string {
	return j.root
}

// Cache exposes the analysis cache (nil when disabled).
func (j *Janitor) Cache() *cache.Store {
	return j.store
}

// AuditResult is the structured outcome of one audit.
type AuditResult struct {
	DeadSymbols []extract.Entity `json:"dead_symbols"`
	Orphans     []string         `json:"orphans"`
	Protected   []extract.Entity `json:"protected,omitempty"`
	FileCount   int              `json:"file_count"`
	FromCache   bool             `json:"from_cache"`

	// FileHashes captures analysis-time content hashes of files holding
	// dead symbols, guarding the mutation session.
	FileHashes map[string]string `json:"-"`
}

// Audit runs the three analysis phases and the shield pipeline. When the
// whole-project hash is present in the cache the stored result is returned
// without constructing the graphs.
func (j *Janitor) Audit(ctx context.Context, onProgress func()) (*AuditResult, error) {
	files, err := scanner.NewScanner(j.cfg).ScanDir(j.root)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	var projectHash string
	if j.store != nil {
		projectHash = j.store.ProjectHash(files)
		if cached, ok := j.store.ProjectResultFor(projectHash); ok {
			result := &AuditResult{
				DeadSymbols: cached.DeadSymbols,
				Orphans:     cached.Orphans,
				FileCount:   len(files),
				FromCache:   true,
				FileHashes:  hashFiles(cached.DeadSymbols),
			}
			return result, nil
		}
	}

	// Phase 1: file graph and orphans.
	var depCache graph.DependencyCache
	if j.store != nil {
		depCache = j.store
	}
	builder := graph.NewBuilder(j.root, depCache)
	fileGraph := builder.Build(files, onProgress)
	orphans := graph.NewOrphanDetector(j.root).Detect(fileGraph)

	// Phase 2: entity extraction, cache permitting.
	tracker := refs.NewTracker()
	type fileEntities struct {
		path     string
		entities []extract.Entity
		hash     string
	}
	var storeMu sync.Mutex
	extracted := fileproc.MapFiles(files, func(psr *parser.Parser, path string) (fileEntities, error) {
		fe := fileEntities{path: path}
		if hash, err := cache.FileHash(path); err == nil {
			fe.hash = hash
		}

		if j.store != nil {
			if entities, ok := j.store.Definitions(path); ok {
				fe.entities = entities
				return fe, nil
			}
		}

		result, err := psr.ParseFile(path)
		if err != nil {
			return fe, nil // ParseFailure: skip the file, keep going
		}
		fe.entities = extract.New(result.Language).Entities(result)

		if j.store != nil {
			storeMu.Lock()
			j.store.StoreDefinitions(path, fe.entities)
			storeMu.Unlock()
		}
		return fe, nil
	})

	fileHashes := make(map[string]string, len(extracted))
	for i := range extracted {
		fileHashes[extracted[i].path] = extracted[i].hash
		for k := range extracted[i].entities {
			tracker.AddDefinition(&extracted[i].entities[k])
		}
	}

	// Phase 3: reference collection (replayed from cache when possible)
	// and resolution under a single writer.
	collected := fileproc.MapFiles(files, func(psr *parser.Parser, path string) ([]refs.Candidate, error) {
		if j.store != nil {
			if candidates, ok := j.store.Candidates(path); ok {
				return candidates, nil
			}
		}

		result, err := psr.ParseFile(path)
		if err != nil {
			return nil, nil
		}

		var candidates []refs.Candidate
		if result.Language == parser.LangPython {
			isInit := filepath.Base(path) == "__init__.py"
			candidates = refs.CollectPythonCandidates(result, builder, isInit)
		} else {
			candidates = refs.CollectJSCandidates(result, builder)
		}

		if j.store != nil {
			storeMu.Lock()
			j.store.StoreCandidates(path, candidates)
			storeMu.Unlock()
		}
		return candidates, nil
	})
	for _, candidates := range collected {
		tracker.Resolve(candidates)
	}

	tracker.ApplyFrameworkLifecycleProtection()

	// Side inputs: config references and the metaprogramming scan.
	configReferences := configrefs.NewScanner(j.root).Scan()
	dangerFiles := j.scanMetaprogramming(files)

	result := pipeline.New(tracker, j.registry, pipeline.Options{
		Root:        j.root,
		Languages:   j.cfg.Languages,
		LibraryMode: j.cfg.LibraryMode,
		GrepShield:  j.cfg.GrepShield,
		DangerFiles: dangerFiles,
		ConfigRefs:  configReferences,
	}).Run()

	audit := &AuditResult{
		Orphans:    orphans,
		FileCount:  len(files),
		FileHashes: fileHashes,
	}
	for _, e := range result.Dead {
		audit.DeadSymbols = append(audit.DeadSymbols, *e)
	}
	for _, e := range result.Protected {
		audit.Protected = append(audit.Protected, *e)
	}
	sortEntities(audit.DeadSymbols)
	sortEntities(audit.Protected)

	if j.store != nil && projectHash != "" {
		j.store.StoreProjectResult(projectHash, &cache.ProjectResult{
			DeadSymbols: audit.DeadSymbols,
			Orphans:     audit.Orphans,
		})
	}

	return audit, nil
}

// scanMetaprogramming flags files using dynamic execution, reading the
// cached verdict for unchanged files.
func (j *Janitor) scanMetaprogramming(files []string) map[string]bool {
	type verdict struct {
		path      string
		dangerous bool
	}
	var storeMu sync.Mutex
	verdicts := fileproc.ForEachFile(files, func(path string) (verdict, error) {
		if j.store != nil {
			if dangerous, ok := j.store.Danger(path); ok {
				return verdict{path: path, dangerous: dangerous}, nil
			}
		}
		content := readFileString(path)
		dangerous := pipeline.ContainsDangerPattern(content)
		if j.store != nil {
			storeMu.Lock()
			j.store.StoreDanger(path, dangerous)
			storeMu.Unlock()
		}
		return verdict{path: path, dangerous: dangerous}, nil
	})

	danger := make(map[string]bool)
	for _, v := range verdicts {
		if v.dangerous {
			danger[v.path] = true
		}
	}
	return danger
}

// sortEntities orders report entries by file then position so repeated
// audits of an unchanged project emit identical output.
func sortEntities(entities []extract.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].FilePath != entities[j].FilePath {
			return entities[i].FilePath < entities[j].FilePath
		}
		return entities[i].StartByte < entities[j].StartByte
	})
}

func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// hashFiles hashes the defining files of cached dead symbols so a
// cache-served audit can still guard the mutation session.
func hashFiles(symbols []extract.Entity) map[string]string {
	hashes := make(map[string]string)
	for _, s := range symbols {
		if _, done := hashes[s.FilePath]; done {
			continue
		}
		if hash, err := cache.FileHash(s.FilePath); err == nil {
			hashes[s.FilePath] = hash
		}
	}
	return hashes
}

// CleanOptions configures a clean run.
type CleanOptions struct {
	DryRun        bool
	DeleteOrphans bool
	TestCommand   string
	OnProgress    func()
}

// CleanResult reports the outcome of the mutate-verify-commit cycle.
type CleanResult struct {
	Audit           *AuditResult `json:"audit"`
	SessionID       string       `json:"session_id,omitempty"`
	Committed       bool         `json:"committed"`
	RolledBack      bool         `json:"rolled_back"`
	CollectionError bool         `json:"collection_error"`
	NewFailures     []string     `json:"new_failures,omitempty"`
	RemovedSymbols  int          `json:"removed_symbols"`
	RemovedFiles    int          `json:"removed_files"`
	TestOutput      string       `json:"-"`
	DryRun          bool         `json:"dry_run"`
}

// Clean audits, then removes dead symbols (and orphan files when asked)
// under test verification. Only failures beyond the baseline set trigger
// rollback; a collection error rolls back unconditionally.
func (j *Janitor) Clean(ctx context.Context, opts CleanOptions) (*CleanResult, error) {
	audit, err := j.Audit(ctx, opts.OnProgress)
	if err != nil {
		return nil, err
	}

	result := &CleanResult{Audit: audit, DryRun: opts.DryRun}

	orphans := audit.Orphans
	if !opts.DeleteOrphans {
		orphans = nil
	}

	// A clean with nothing to remove is a no-op: no backup directory.
	if len(audit.DeadSymbols) == 0 && len(orphans) == 0 {
		result.Committed = true
		return result, nil
	}

	if opts.DryRun {
		result.RemovedSymbols = len(audit.DeadSymbols)
		result.RemovedFiles = len(orphans)
		return result, nil
	}

	testCommand := opts.TestCommand
	if testCommand == "" {
		testCommand = j.cfg.TestCommand
	}
	sandbox := reaper.NewSandbox(j.root, testCommand)
	baseline := sandbox.Baseline(ctx)

	hashes := audit.FileHashes
	for _, orphan := range orphans {
		if _, ok := hashes[orphan]; !ok {
			if hash, err := cache.FileHash(orphan); err == nil {
				hashes[orphan] = hash
			}
		}
	}

	session, err := reaper.NewSession(j.root, hashes)
	if err != nil {
		return nil, err
	}
	result.SessionID = session.SessionID()

	targets := make(map[string][]extract.Entity)
	for _, symbol := range audit.DeadSymbols {
		targets[symbol.FilePath] = append(targets[symbol.FilePath], symbol)
	}

	if err := session.DeleteSymbols(targets); err != nil {
		// Any mutation-level failure restores everything touched so far.
		_ = session.RestoreAll()
		return nil, err
	}
	if len(orphans) > 0 {
		if err := session.DeleteFiles(orphans); err != nil {
			_ = session.RestoreAll()
			return nil, err
		}
	}

	verify := sandbox.Verify(ctx)
	result.TestOutput = verify.Output
	result.NewFailures = verify.NewFailures(baseline)
	result.CollectionError = verify.IsCollectionError()

	if result.CollectionError || len(result.NewFailures) > 0 {
		if err := session.RestoreAll(); err != nil {
			return result, fmt.Errorf("rollback incomplete: %w", err)
		}
		result.RolledBack = true
		return result, nil
	}

	if err := session.Commit(); err != nil {
		return result, err
	}
	result.Committed = true
	result.RemovedSymbols = len(audit.DeadSymbols)
	result.RemovedFiles = len(orphans)
	return result, nil
}
