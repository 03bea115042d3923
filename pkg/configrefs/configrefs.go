// Package configrefs scans infrastructure configuration files for string
// references to source symbols: serverless handlers, SAM templates, compose
// commands, Django settings, Airflow DAGs, packaging manifests, and CI
// workflows. Symbols named only in these files look dead to the reference
// graph but must never be deleted.
package configrefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Candidate records one config-file reference to a symbol name.
type Candidate struct {
	ConfigFile string `json:"config_file"`
	Reason     string `json:"reason"`
	FullPath   string `json:"full_path,omitempty"`
}

// References is the merged candidate set keyed by symbol name. Dotted
// strings contribute both their final segment and the full dotted form.
type References struct {
	byName map[string][]Candidate
}

// Lookup returns the candidates for a name, also trying the final dotted
// segment of a qualified name.
func (r *References) Lookup(name string) []Candidate {
	if r == nil {
		return nil
	}
	if cands, ok := r.byName[name]; ok {
		return cands
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return r.byName[name[idx+1:]]
	}
	return nil
}

// Contains reports whether a name (or its final dotted segment) is
// referenced by any scanned config file.
func (r *References) Contains(name string) bool {
	return len(r.Lookup(name)) > 0
}

// Len returns the number of distinct referenced names.
func (r *References) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}

func (r *References) add(name, configFile, reason, fullPath string) {
	if name == "" {
		return
	}
	r.byName[name] = append(r.byName[name], Candidate{
		ConfigFile: configFile,
		Reason:     reason,
		FullPath:   fullPath,
	})
}

// addDotted registers both the final segment and the full dotted form.
func (r *References) addDotted(dotted, configFile, reason string) {
	parts := strings.Split(dotted, ".")
	r.add(parts[len(parts)-1], configFile, reason, dotted)
	if len(parts) > 1 {
		r.add(dotted, configFile, reason, dotted)
	}
}

// Scanner extracts symbol candidates from a fixed set of infrastructure
// files at the project root and one level deep.
type Scanner struct {
	root string
}

// NewScanner creates a scanner for the given project root.
func NewScanner(root string) *Scanner {
	return &Scanner{root: root}
}

// Scan parses every recognised config file. Individual parse failures are
// skipped; the scan itself never fails.
func (s *Scanner) Scan() *References {
	refs := &References{byName: make(map[string][]Candidate)}

	for _, path := range s.findFiles("serverless.yml", "serverless.yaml") {
		s.scanServerless(path, refs)
	}
	for _, path := range s.findFiles("template.yaml", "template.yml") {
		s.scanSAMTemplate(path, refs)
	}
	for _, path := range s.findFiles("docker-compose.yml", "docker-compose.yaml") {
		s.scanCompose(path, refs)
	}
	for _, path := range s.findFiles("settings.py") {
		s.scanDjangoSettings(path, refs)
	}
	for _, path := range s.findFiles("package.json") {
		s.scanPackageJSON(path, refs)
	}
	for _, path := range s.findFiles("tsconfig.json") {
		s.scanTSConfig(path, refs)
	}
	for _, path := range s.findFiles("pyproject.toml") {
		s.scanPyproject(path, refs)
	}
	s.scanAirflowDAGs(refs)
	s.scanWorkflows(refs)

	return refs
}

// findFiles looks for the named files at the root and one directory deep.
func (s *Scanner) findFiles(names ...string) []string {
	var found []string
	for _, name := range names {
		direct := filepath.Join(s.root, name)
		if fileExists(direct) {
			found = append(found, direct)
		}
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return found
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		for _, name := range names {
			nested := filepath.Join(s.root, entry.Name(), name)
			if fileExists(nested) {
				found = append(found, nested)
			}
		}
	}
	return found
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Scanner) rel(path string) string {
	if rel, err := filepath.Rel(s.root, path); err == nil {
		return rel
	}
	return path
}

// yamlScalarsAtKeys walks a YAML document collecting scalar (and sequence-
// of-scalar) values stored under any of the given keys, at any depth.
func yamlScalarsAtKeys(node *yaml.Node, keys map[string]bool, visit func(key, value string)) {
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			yamlScalarsAtKeys(child, keys, visit)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind == yaml.ScalarNode && keys[keyNode.Value] {
				switch valNode.Kind {
				case yaml.ScalarNode:
					visit(keyNode.Value, valNode.Value)
				case yaml.SequenceNode:
					parts := make([]string, 0, len(valNode.Content))
					for _, item := range valNode.Content {
						if item.Kind == yaml.ScalarNode {
							parts = append(parts, item.Value)
						}
					}
					visit(keyNode.Value, strings.Join(parts, " "))
				}
			}
			yamlScalarsAtKeys(valNode, keys, visit)
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			yamlScalarsAtKeys(child, keys, visit)
		}
	}
}

func parseYAMLFile(path string) *yaml.Node {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return &doc
}

var dottedPathPattern = regexp.MustCompile(`^[a-zA-Z0-9_\./]+$`)

func (s *Scanner) scanServerless(path string, refs *References) {
	doc := parseYAMLFile(path)
	if doc == nil {
		return
	}
	rel := s.rel(path)
	yamlScalarsAtKeys(doc, map[string]bool{"handler": true}, func(_, value string) {
		if dottedPathPattern.MatchString(value) {
			refs.addDotted(value, rel, "Lambda handler: "+value)
		}
	})
}

func (s *Scanner) scanSAMTemplate(path string, refs *References) {
	doc := parseYAMLFile(path)
	if doc == nil {
		return
	}
	rel := s.rel(path)
	yamlScalarsAtKeys(doc, map[string]bool{"Handler": true, "handler": true}, func(_, value string) {
		if dottedPathPattern.MatchString(value) {
			refs.addDotted(value, rel, "SAM handler: "+value)
		}
	})
}

var (
	pythonModulePattern = regexp.MustCompile(`python3?\s+-m\s+([a-zA-Z0-9_\.]+)`)
	pythonScriptPattern = regexp.MustCompile(`python3?\s+([a-zA-Z0-9_/]+\.py)`)
)

func (s *Scanner) scanCompose(path string, refs *References) {
	doc := parseYAMLFile(path)
	if doc == nil {
		return
	}
	rel := s.rel(path)
	keys := map[string]bool{"command": true, "entrypoint": true}
	yamlScalarsAtKeys(doc, keys, func(_, value string) {
		for _, m := range pythonModulePattern.FindAllStringSubmatch(value, -1) {
			refs.addDotted(m[1], rel, "Compose command: python -m "+m[1])
		}
		for _, m := range pythonScriptPattern.FindAllStringSubmatch(value, -1) {
			stem := strings.TrimSuffix(filepath.Base(m[1]), ".py")
			refs.add(stem, rel, "Compose script: "+m[1], m[1])
		}
	})
}

var (
	installedAppsPattern = regexp.MustCompile(`(?s)INSTALLED_APPS\s*=\s*[\[\(](.*?)[\]\)]`)
	middlewarePattern    = regexp.MustCompile(`(?s)MIDDLEWARE\s*=\s*[\[\(](.*?)[\]\)]`)
	quotedStringPattern  = regexp.MustCompile(`["']([a-zA-Z0-9_\.]+)["']`)
)

func (s *Scanner) scanDjangoSettings(path string, refs *References) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	content := string(data)
	rel := s.rel(path)

	if m := installedAppsPattern.FindStringSubmatch(content); m != nil {
		for _, app := range quotedStringPattern.FindAllStringSubmatch(m[1], -1) {
			for _, part := range strings.Split(app[1], ".") {
				refs.add(part, rel, "Django INSTALLED_APPS: "+app[1], app[1])
			}
		}
	}
	if m := middlewarePattern.FindStringSubmatch(content); m != nil {
		for _, mw := range quotedStringPattern.FindAllStringSubmatch(m[1], -1) {
			refs.addDotted(mw[1], rel, "Django MIDDLEWARE: "+mw[1])
		}
	}
}

var (
	pythonCallablePattern = regexp.MustCompile(`python_callable\s*=\s*([a-zA-Z0-9_]+)`)
	taskIDPattern         = regexp.MustCompile(`task_id\s*=\s*["']([a-zA-Z0-9_]+)["']`)
)

func (s *Scanner) scanAirflowDAGs(refs *References) {
	for _, dagsDir := range []string{filepath.Join(s.root, "dags")} {
		entries, err := os.ReadDir(dagsDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
				continue
			}
			path := filepath.Join(dagsDir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			content := string(data)
			rel := s.rel(path)
			for _, m := range pythonCallablePattern.FindAllStringSubmatch(content, -1) {
				refs.add(m[1], rel, "Airflow python_callable: "+m[1], "")
			}
			for _, m := range taskIDPattern.FindAllStringSubmatch(content, -1) {
				refs.add(m[1], rel, "Airflow task_id: "+m[1], "")
			}
		}
	}
}

var jsFilePattern = regexp.MustCompile(`([a-zA-Z0-9_/\-\.]+\.(?:js|ts|jsx|tsx|mjs|cjs))`)

func (s *Scanner) scanPackageJSON(path string, refs *References) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
		Bin     json.RawMessage   `json:"bin"`
		Main    string            `json:"main"`
		Module  string            `json:"module"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return
	}
	rel := s.rel(path)

	addFile := func(filePath, reason string) {
		stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
		refs.add(stem, rel, reason, filePath)
	}

	for name, command := range pkg.Scripts {
		for _, m := range jsFilePattern.FindAllStringSubmatch(command, -1) {
			addFile(m[1], "npm script "+name+": "+m[1])
		}
	}

	if len(pkg.Bin) > 0 {
		var binMap map[string]string
		var binStr string
		if err := json.Unmarshal(pkg.Bin, &binMap); err == nil {
			for name, filePath := range binMap {
				addFile(filePath, "bin entry point "+name+": "+filePath)
			}
		} else if err := json.Unmarshal(pkg.Bin, &binStr); err == nil {
			addFile(binStr, "bin entry point: "+binStr)
		}
	}
	if pkg.Main != "" {
		addFile(pkg.Main, "main entry point: "+pkg.Main)
	}
	if pkg.Module != "" {
		addFile(pkg.Module, "module entry point: "+pkg.Module)
	}
}

var (
	lineCommentPattern  = regexp.MustCompile(`(?m)//.*$`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func (s *Scanner) scanTSConfig(path string, refs *References) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// tsconfig allows JSON5-style comments.
	content := blockCommentPattern.ReplaceAll(lineCommentPattern.ReplaceAll(data, nil), nil)

	var cfg struct {
		CompilerOptions struct {
			Paths map[string][]string `json:"paths"`
		} `json:"compilerOptions"`
		Files   []string `json:"files"`
		Include []string `json:"include"`
	}
	if err := json.Unmarshal(content, &cfg); err != nil {
		return
	}
	rel := s.rel(path)

	for alias, targets := range cfg.CompilerOptions.Paths {
		for _, target := range targets {
			clean := strings.TrimSuffix(strings.ReplaceAll(target, "*", ""), "/")
			if dir := filepath.Base(clean); dir != "" && dir != "." {
				refs.add(dir, rel, "path mapping "+alias+": "+target, target)
			}
		}
	}
	for _, file := range cfg.Files {
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		refs.add(stem, rel, "explicit file: "+file, file)
	}
	for _, pattern := range cfg.Include {
		if strings.Contains(pattern, "*") {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(pattern), filepath.Ext(pattern))
		refs.add(stem, rel, "include pattern: "+pattern, pattern)
	}
}

func (s *Scanner) scanPyproject(path string, refs *References) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return
	}
	rel := s.rel(path)

	addEntryPoint := func(value, reason string) {
		// Entry points look like "pkg.mod:func".
		modulePart, funcPart, found := strings.Cut(value, ":")
		refs.addDotted(strings.TrimSpace(modulePart), rel, reason)
		if found {
			refs.add(strings.TrimSpace(funcPart), rel, reason, value)
		}
	}

	if scripts, ok := tree.GetPath([]string{"project", "scripts"}).(*toml.Tree); ok {
		for _, key := range scripts.Keys() {
			if value, ok := scripts.GetPath([]string{key}).(string); ok {
				addEntryPoint(value, "packaging script "+key+": "+value)
			}
		}
	}
	// Group names may themselves contain dots ("demo.plugins").
	if groups, ok := tree.GetPath([]string{"project", "entry-points"}).(*toml.Tree); ok {
		for _, group := range groups.Keys() {
			if entries, ok := groups.GetPath([]string{group}).(*toml.Tree); ok {
				for _, key := range entries.Keys() {
					if value, ok := entries.GetPath([]string{key}).(string); ok {
						addEntryPoint(value, "packaging entry point "+key+": "+value)
					}
				}
			}
		}
	}
}

func (s *Scanner) scanWorkflows(refs *References) {
	workflowsDir := filepath.Join(s.root, ".github", "workflows")
	entries, err := os.ReadDir(workflowsDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml")) {
			continue
		}
		path := filepath.Join(workflowsDir, name)
		doc := parseYAMLFile(path)
		if doc == nil {
			continue
		}
		rel := s.rel(path)
		yamlScalarsAtKeys(doc, map[string]bool{"run": true}, func(_, value string) {
			for _, m := range pythonModulePattern.FindAllStringSubmatch(value, -1) {
				refs.addDotted(m[1], rel, "Workflow run: python -m "+m[1])
			}
			for _, m := range pythonScriptPattern.FindAllStringSubmatch(value, -1) {
				stem := strings.TrimSuffix(filepath.Base(m[1]), ".py")
				refs.add(stem, rel, "Workflow script: "+m[1], m[1])
			}
		})
	}
}
