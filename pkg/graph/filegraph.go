// Package graph builds the file-level dependency graph and detects orphan
// files. Node identity is the canonical absolute path (symlinks resolved)
// so separator aliasing can never split a file into two nodes.
package graph

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GhrammR/the-janitor/internal/fileproc"
	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/parser"
)

// FileGraph is a directed graph of file dependencies. An edge A -> B means
// "file A textually imports something resolving to file B". Parallel edges
// collapse.
type FileGraph struct {
	nodes map[string]struct{}
	edges map[string]map[string]struct{}
	indeg map[string]int
}

// NewFileGraph creates an empty file graph.
func NewFileGraph() *FileGraph {
	return &FileGraph{
		nodes: make(map[string]struct{}),
		edges: make(map[string]map[string]struct{}),
		indeg: make(map[string]int),
	}
}

// AddNode registers a file even if it has no edges.
func (g *FileGraph) AddNode(path string) {
	g.nodes[path] = struct{}{}
}

// AddEdge adds a dependency edge, collapsing duplicates.
func (g *FileGraph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	targets, ok := g.edges[from]
	if !ok {
		targets = make(map[string]struct{})
		g.edges[from] = targets
	}
	if _, dup := targets[to]; dup {
		return
	}
	targets[to] = struct{}{}
	g.indeg[to]++
}

// InDegree returns the number of distinct files importing path.
func (g *FileGraph) InDegree(path string) int {
	return g.indeg[path]
}

// Nodes returns all file nodes in sorted order.
func (g *FileGraph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// EdgeCount returns the number of collapsed edges.
func (g *FileGraph) EdgeCount() int {
	count := 0
	for _, targets := range g.edges {
		count += len(targets)
	}
	return count
}

// Dependencies returns the files path imports, in sorted order.
func (g *FileGraph) Dependencies(path string) []string {
	targets := g.edges[path]
	deps := make([]string, 0, len(targets))
	for t := range targets {
		deps = append(deps, t)
	}
	sort.Strings(deps)
	return deps
}

// DependencyCache lets the builder skip parsing for unchanged files.
// Implemented by the analysis cache.
type DependencyCache interface {
	Dependencies(path string) ([]string, bool)
	StoreDependencies(path string, deps []string)
}

// Builder resolves imports to file paths and assembles the file graph.
type Builder struct {
	root   string
	srcDir string
	cache  DependencyCache
}

// NewBuilder creates a graph builder for the project root. cache may be nil.
func NewBuilder(root string, cache DependencyCache) *Builder {
	b := &Builder{root: root, cache: cache}
	if src := filepath.Join(root, "src"); isDir(src) {
		b.srcDir = src
	}
	return b
}

// Build parses every file (fanning across workers, cache permitting) and
// returns the assembled graph. Unresolved imports are dropped silently.
func (b *Builder) Build(files []string, onProgress func()) *FileGraph {
	graph := NewFileGraph()
	for _, f := range files {
		graph.AddNode(f)
	}

	type fileDeps struct {
		path string
		deps []string
	}

	var mu sync.Mutex
	results := fileproc.MapFilesWithProgress(files, func(psr *parser.Parser, path string) (fileDeps, error) {
		if b.cache != nil {
			if deps, ok := b.cache.Dependencies(path); ok {
				return fileDeps{path: path, deps: deps}, nil
			}
		}

		result, err := psr.ParseFile(path)
		if err != nil {
			if b.cache != nil {
				mu.Lock()
				b.cache.StoreDependencies(path, nil)
				mu.Unlock()
			}
			return fileDeps{path: path}, nil
		}

		imports := extract.New(result.Language).Imports(result)
		var deps []string
		for _, imp := range imports {
			for _, target := range b.ResolveImport(imp, result.Language) {
				deps = append(deps, target)
			}
		}

		if b.cache != nil {
			mu.Lock()
			b.cache.StoreDependencies(path, deps)
			mu.Unlock()
		}
		return fileDeps{path: path, deps: deps}, nil
	}, onProgress)

	for _, fd := range results {
		for _, dep := range fd.deps {
			if dep != fd.path {
				graph.AddEdge(fd.path, dep)
			}
		}
	}

	return graph
}

// ResolveImport resolves one import to zero or more canonical target paths.
func (b *Builder) ResolveImport(imp extract.Import, lang parser.Language) []string {
	if lang == parser.LangPython {
		return b.resolvePython(imp)
	}
	if lang.IsJS() {
		if target := b.resolveJS(imp); target != "" {
			return []string{target}
		}
		return nil
	}
	return nil
}

func (b *Builder) resolvePython(imp extract.Import) []string {
	var resolved []string

	if imp.IsRelative {
		baseDir := filepath.Dir(imp.FilePath)
		for i := 1; i < imp.RelativeLevel; i++ {
			baseDir = filepath.Dir(baseDir)
		}

		if imp.Module == "" {
			// from . import x: x may be a sibling module or a name inside
			// the package __init__.
			found := false
			for _, name := range imp.Names {
				if target := checkPythonVariants(filepath.Join(baseDir, name)); target != "" {
					resolved = append(resolved, target)
					found = true
				}
			}
			if !found {
				if init := canonical(filepath.Join(baseDir, "__init__.py")); init != "" {
					resolved = append(resolved, init)
				}
			}
			return resolved
		}

		candidate := filepath.Join(baseDir, filepath.Join(strings.Split(imp.Module, ".")...))
		if target := checkPythonVariants(candidate); target != "" {
			resolved = append(resolved, target)
		}
		return resolved
	}

	// Absolute import: project root first, then a conventional src/ root.
	parts := strings.Split(imp.Module, ".")
	roots := []string{b.root}
	if b.srcDir != "" {
		roots = append(roots, b.srcDir)
	}
	for _, root := range roots {
		first := filepath.Join(root, parts[0])
		if !isDir(first) && !isFile(first+".py") {
			continue
		}
		candidate := filepath.Join(root, filepath.Join(parts...))
		if target := checkPythonVariants(candidate); target != "" {
			resolved = append(resolved, target)
			break // stop at the first resolution
		}
	}
	return resolved
}

// checkPythonVariants probes base.py then base/__init__.py.
func checkPythonVariants(base string) string {
	if target := canonical(base + ".py"); target != "" {
		return target
	}
	return canonical(filepath.Join(base, "__init__.py"))
}

var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx"}

func (b *Builder) resolveJS(imp extract.Import) string {
	if imp.IsRelative {
		return probeJSPath(filepath.Join(filepath.Dir(imp.FilePath), imp.Module))
	}
	// Non-relative specifiers get one project-root attempt; everything
	// else is external.
	return probeJSPath(filepath.Join(b.root, imp.Module))
}

// probeJSPath tries the exact path, each extension, then index.* inside a
// matching directory.
func probeJSPath(base string) string {
	if filepath.Ext(base) != "" {
		if target := canonical(base); target != "" {
			return target
		}
	}
	for _, ext := range jsExtensions {
		if target := canonical(base + ext); target != "" {
			return target
		}
	}
	if isDir(base) {
		for _, ext := range jsExtensions {
			if target := canonical(filepath.Join(base, "index"+ext)); target != "" {
				return target
			}
		}
	}
	return ""
}

// canonical resolves symlinks and normalizes the path, returning "" when
// the file does not exist.
func canonical(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	if !isFile(resolved) {
		return ""
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return ""
	}
	return filepath.Clean(abs)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
