package graph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml"
)

// ImmortalDirs are root-relative directories whose contents are never
// classified dead: they are executed by runners or readers, not imported.
var ImmortalDirs = map[string]bool{
	"tests":      true,
	"examples":   true,
	"docs":       true,
	"scripts":    true,
	"benchmarks": true,
	"tutorial":   true,
	"migrations": true,
}

// InImmortalDir reports whether any path segment under root names an
// immortal directory.
func InImmortalDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ImmortalDirs[strings.ToLower(part)] {
			return true
		}
	}
	return false
}

// OrphanDetector finds files that no other file imports: zero in-degree,
// not in an immortal directory, and bearing no entry-point marker. A file
// imported only by other orphans is not itself reported.
type OrphanDetector struct {
	root               string
	metadataEntryFiles map[string]bool
}

// NewOrphanDetector creates a detector, pre-parsing packaging metadata
// (pyproject.toml scripts and entry points, package.json bin/main/module)
// for entry-point files.
func NewOrphanDetector(root string) *OrphanDetector {
	d := &OrphanDetector{
		root:               root,
		metadataEntryFiles: make(map[string]bool),
	}
	d.parsePyprojectEntryPoints()
	d.parsePackageJSONEntryPoints()
	return d
}

// Detect returns the orphan files of the graph in sorted order.
func (d *OrphanDetector) Detect(g *FileGraph) []string {
	var orphans []string
	for _, node := range g.Nodes() {
		if g.InDegree(node) != 0 {
			continue
		}
		if InImmortalDir(d.root, node) {
			continue
		}
		if d.isEntryPoint(node) {
			continue
		}
		orphans = append(orphans, node)
	}
	sort.Strings(orphans)
	return orphans
}

// isEntryPoint checks the entry-point markers: package structure files,
// index.* for JS/TS, root-level files, metadata entry points, and a
// syntactic __main__ guard for Python.
func (d *OrphanDetector) isEntryPoint(path string) bool {
	base := filepath.Base(path)

	switch base {
	case "__init__.py", "__main__.py", "conftest.py":
		return true
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "index" {
		return true
	}

	// Files directly in the project root are commonly invoked by hand.
	if filepath.Dir(path) == filepath.Clean(d.root) {
		return true
	}

	if d.metadataEntryFiles[path] {
		return true
	}

	if strings.HasSuffix(base, ".py") {
		data, err := os.ReadFile(path)
		if err == nil {
			content := string(data)
			if strings.Contains(content, `if __name__ == "__main__"`) ||
				strings.Contains(content, `if __name__ == '__main__'`) {
				return true
			}
			if strings.Contains(content, "typer.Typer(") {
				return true
			}
		}
	}

	return false
}

func (d *OrphanDetector) addMetadataFile(path string) {
	if target := canonical(path); target != "" {
		d.metadataEntryFiles[target] = true
	}
}

// addMetadataModule resolves a "pkg.mod:func" style entry point to files.
func (d *OrphanDetector) addMetadataModule(value string) {
	modulePart, _, _ := strings.Cut(value, ":")
	modulePart = strings.TrimSpace(modulePart)
	if modulePart == "" {
		return
	}
	relPath := filepath.Join(strings.Split(modulePart, ".")...)
	for _, root := range []string{d.root, filepath.Join(d.root, "src")} {
		if target := checkPythonVariants(filepath.Join(root, relPath)); target != "" {
			d.metadataEntryFiles[target] = true
		}
	}
}

func (d *OrphanDetector) parsePyprojectEntryPoints() {
	tree, err := toml.LoadFile(filepath.Join(d.root, "pyproject.toml"))
	if err != nil {
		return
	}
	if scripts, ok := tree.GetPath([]string{"project", "scripts"}).(*toml.Tree); ok {
		for _, key := range scripts.Keys() {
			if value, ok := scripts.GetPath([]string{key}).(string); ok {
				d.addMetadataModule(value)
			}
		}
	}
	if groups, ok := tree.GetPath([]string{"project", "entry-points"}).(*toml.Tree); ok {
		for _, group := range groups.Keys() {
			if entries, ok := groups.GetPath([]string{group}).(*toml.Tree); ok {
				for _, key := range entries.Keys() {
					if value, ok := entries.GetPath([]string{key}).(string); ok {
						d.addMetadataModule(value)
					}
				}
			}
		}
	}
}

func (d *OrphanDetector) parsePackageJSONEntryPoints() {
	data, err := os.ReadFile(filepath.Join(d.root, "package.json"))
	if err != nil {
		return
	}
	var pkg struct {
		Bin     json.RawMessage `json:"bin"`
		Main    string          `json:"main"`
		Module  string          `json:"module"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}

	if pkg.Main != "" {
		d.addMetadataFile(filepath.Join(d.root, pkg.Main))
	}
	if pkg.Module != "" {
		d.addMetadataFile(filepath.Join(d.root, pkg.Module))
	}
	if len(pkg.Bin) > 0 {
		var binMap map[string]string
		var binStr string
		if err := json.Unmarshal(pkg.Bin, &binMap); err == nil {
			for _, path := range binMap {
				d.addMetadataFile(filepath.Join(d.root, path))
			}
		} else if err := json.Unmarshal(pkg.Bin, &binStr); err == nil {
			d.addMetadataFile(filepath.Join(d.root, binStr))
		}
	}
	if len(pkg.Exports) > 0 {
		d.collectExportPaths(pkg.Exports)
	}
}

// collectExportPaths walks the nested package.json "exports" value.
func (d *OrphanDetector) collectExportPaths(raw json.RawMessage) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.HasPrefix(str, "./") || strings.Contains(str, "/") {
			d.addMetadataFile(filepath.Join(d.root, str))
		}
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, val := range obj {
			d.collectExportPaths(val)
		}
		return
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, val := range list {
			d.collectExportPaths(val)
		}
	}
}
