// Package pipeline runs the ordered immortality shields over every defined
// symbol. The first shield a symbol satisfies assigns its protection tag
// and removes it from consideration; a symbol that satisfies none is dead.
package pipeline

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/graph"
	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/GhrammR/the-janitor/pkg/refs"
	"github.com/GhrammR/the-janitor/pkg/wisdom"
	"github.com/gobwas/glob"
)

// Protection tags assigned by the shields.
const (
	TagDirectory          = "Directory"
	TagReferenced         = "Referenced"
	TagWisdomRule         = "WisdomRule"
	TagLibraryMode        = "LibraryMode"
	TagPackageExport      = "PackageExport"
	TagConfigReference    = "ConfigReference"
	TagMetaprogramming    = "MetaprogrammingDanger"
	TagEntryPoint         = "EntryPoint"
	TagQtSlot             = "QtAutoConnection"
	TagSQLAlchemyMeta     = "SQLAlchemyMetaprogramming"
	TagORMLifecycle       = "ORMLifecycle"
	TagPydanticAlias      = "PydanticAliasGenerator"
	TagDependencyOverride = "DependencyOverride"
	TagPytestFixture      = "PytestFixture"
	TagGrepShield         = "GrepShield"
)

// ConfigReferences is the candidate set produced by the config scanner.
type ConfigReferences interface {
	Contains(name string) bool
}

// Options configures one pipeline run.
type Options struct {
	Root        string
	Languages   config.LanguageSelector
	LibraryMode bool
	GrepShield  bool

	// DangerFiles holds files flagged by the metaprogramming scan.
	DangerFiles map[string]bool

	// ConfigRefs holds symbol names referenced from infrastructure files.
	ConfigRefs ConfigReferences
}

// Result partitions symbols into dead and protected sets.
type Result struct {
	Dead      []*extract.Entity
	Protected []*extract.Entity
}

// Pipeline evaluates the shields against a populated tracker.
type Pipeline struct {
	tracker *refs.Tracker
	wisdom  *wisdom.Registry
	opts    Options

	fileCache map[string]string
	fileMu    sync.Mutex

	grepFiles []string
	grepOnce  sync.Once
}

// New creates a pipeline over a resolved tracker.
func New(tracker *refs.Tracker, registry *wisdom.Registry, opts Options) *Pipeline {
	return &Pipeline{
		tracker:   tracker,
		wisdom:    registry,
		opts:      opts,
		fileCache: make(map[string]string),
	}
}

var (
	qtSlotPattern       = regexp.MustCompile(`^on_[A-Za-z0-9]+_[A-Za-z0-9]+$`)
	cliCommandDecorator = regexp.MustCompile(`@app\.(command|callback)`)
)

// qtBases are widget classes whose slots auto-connect by name.
var qtBases = map[string]bool{
	"QMainWindow": true, "QWidget": true, "QDialog": true,
	"QFrame": true, "QWindow": true,
}

// ormBases are conventional ORM base classes whose lifecycle methods run
// through the framework.
var ormBases = map[string]bool{
	"Model": true, "Base": true, "Document": true,
}

// ormLifecycleMethods never appear in direct call position on ORM models.
var ormLifecycleMethods = map[string]bool{
	"save": true, "delete": true, "update": true,
	"create": true, "get": true, "filter": true,
}

// DangerPatterns mark files whose symbols may be reached through dynamic
// execution; static analysis cannot see those call sites.
var DangerPatterns = []string{
	"getattr(", "setattr(", "hasattr(", "delattr(",
	"eval(", "exec(", "compile(",
	"importlib.", "__import__(",
	"type(", ".__dict__",
}

// ContainsDangerPattern reports whether source content uses dynamic
// execution.
func ContainsDangerPattern(content string) bool {
	for _, pattern := range DangerPatterns {
		if strings.Contains(content, pattern) {
			return true
		}
	}
	return false
}

// Run classifies every defined symbol. ProtectedBy is written exactly once
// by the first matching shield.
func (p *Pipeline) Run() *Result {
	result := &Result{}

	for _, entity := range p.tracker.Definitions() {
		if entity.ProtectedBy != "" {
			// A prior pass (heuristic immortality) already claimed it.
			result.Protected = append(result.Protected, entity)
			continue
		}
		if tag := p.classify(entity); tag != "" {
			entity.ProtectedBy = tag
			result.Protected = append(result.Protected, entity)
			continue
		}
		result.Dead = append(result.Dead, entity)
	}

	return result
}

func (p *Pipeline) classify(e *extract.Entity) string {
	// Shield 0: immortal directory.
	if graph.InImmortalDir(p.opts.Root, e.FilePath) {
		return TagDirectory
	}

	// Shields 1a/1b: any reference, cross-file first, then intra-file
	// including the synthetic constructor and inheritance shields.
	if p.tracker.HasCrossFileReference(e) {
		return TagReferenced
	}
	if p.tracker.HasIntraFileReference(e) {
		return TagReferenced
	}

	// Shield 2: wisdom registry.
	lang := parser.DetectLanguage(e.FilePath)
	name := e.QualifiedName
	if name == "" {
		name = e.Name
	}
	if match := p.wisdom.IsImmortal(name, e.FullText, lang); match != nil {
		return TagWisdomRule + ": " + match.Reason
	}

	// Shield 2.5: library mode keeps every public symbol.
	if p.opts.LibraryMode && !strings.HasPrefix(e.Name, "_") {
		return TagLibraryMode
	}

	// Shield 2.6: package exports are part of the package API.
	if p.tracker.InPackageExports(e) {
		return TagPackageExport
	}

	// Shield 2.7: referenced from an infrastructure config file.
	if p.opts.ConfigRefs != nil && p.opts.ConfigRefs.Contains(e.Name) {
		return TagConfigReference
	}

	// Shield 2.8: the defining file uses dynamic execution.
	if p.opts.DangerFiles[e.FilePath] {
		return TagMetaprogramming
	}

	// Shield 3 (dunder of used class) is already handled by the
	// constructor shield during reference resolution.

	// Shield 4: entry points. Default exports are implicitly protected in
	// all non-library modes.
	if e.Name == "main" || cliCommandDecorator.MatchString(e.FullText) {
		return TagEntryPoint
	}
	if e.DefaultExport && !p.opts.LibraryMode {
		return TagEntryPoint
	}

	// Shields 4.x: enterprise heuristics not already accounted for.
	if tag := p.enterpriseShields(e); tag != "" {
		return tag
	}

	// Shield 5: opt-in grep shield.
	if p.opts.GrepShield && p.nameAppearsInNonSourceFiles(e.Name, e.FilePath) {
		return TagGrepShield
	}

	return ""
}

func (p *Pipeline) enterpriseShields(e *extract.Entity) string {
	inherit := p.tracker.Inheritance()

	// Qt slot auto-connection: on_<object>_<signal> methods on widgets.
	if e.ParentClass != "" && qtSlotPattern.MatchString(e.Name) {
		if p.classHasBase(e.ParentClass, qtBases) {
			return TagQtSlot
		}
	}

	// SQLAlchemy metaprogramming.
	for _, decorator := range e.Decorators {
		if strings.Contains(decorator, "declared_attr") || strings.Contains(decorator, "hybrid_property") {
			return TagSQLAlchemyMeta
		}
	}
	switch e.Name {
	case "__tablename__", "__mapper_args__", "__abstract__", "__table_args__":
		return TagSQLAlchemyMeta
	}

	// ORM lifecycle methods on model classes.
	if e.ParentClass != "" && ormLifecycleMethods[e.Name] {
		if inherit.HasAncestor(e.ParentClass, func(base string) bool {
			if ormBases[base] {
				return true
			}
			return strings.HasSuffix(base, ".Model") || strings.HasSuffix(base, ".Base")
		}) || p.classHasBase(e.ParentClass, ormBases) {
			return TagORMLifecycle
		}
	}

	// Pydantic alias-generated fields: every class member in a file with
	// an alias generator is reachable through its alias.
	if e.ParentClass != "" {
		content := p.fileContent(e.FilePath)
		if strings.Contains(content, "model_config") && strings.Contains(content, "alias_generator") {
			return TagPydanticAlias
		}
	}

	// FastAPI dependency overrides.
	if e.Kind == extract.KindFunction || e.Kind == extract.KindAsyncFunction {
		content := p.fileContent(e.FilePath)
		if strings.Contains(content, "dependency_overrides") {
			pattern := regexp.MustCompile(`dependency_overrides\[[^\]]*\]\s*=\s*` + regexp.QuoteMeta(e.Name))
			if pattern.MatchString(content) {
				return TagDependencyOverride
			}
		}
	}

	// pytest fixtures.
	for _, decorator := range e.Decorators {
		if strings.Contains(decorator, "pytest.fixture") || strings.HasPrefix(decorator, "@fixture") {
			return TagPytestFixture
		}
	}
	if filepath.Base(e.FilePath) == "conftest.py" {
		if strings.Contains(p.fileContent(e.FilePath), "pytest") {
			return TagPytestFixture
		}
	}

	return ""
}

// classHasBase checks every ancestor of a class (direct and inherited
// bases), matching either the exact name or the final dotted segment.
func (p *Pipeline) classHasBase(class string, bases map[string]bool) bool {
	return p.tracker.Inheritance().HasAncestor(class, func(base string) bool {
		if bases[base] {
			return true
		}
		if idx := strings.LastIndex(base, "."); idx >= 0 {
			return bases[base[idx+1:]]
		}
		return false
	})
}

func (p *Pipeline) fileContent(path string) string {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()
	if content, ok := p.fileCache[path]; ok {
		return content
	}
	data, err := os.ReadFile(path)
	content := ""
	if err == nil {
		content = string(data)
	}
	p.fileCache[path] = content
	return content
}

// nameAppearsInNonSourceFiles scans every project file outside excluded
// directories and not bearing the analyzed language's own extensions for
// the literal symbol name.
func (p *Pipeline) nameAppearsInNonSourceFiles(name, definingFile string) bool {
	p.grepOnce.Do(p.buildGrepFileList)

	for _, path := range p.grepFiles {
		if path == definingFile {
			continue
		}
		if strings.Contains(p.fileContent(path), name) {
			return true
		}
	}
	return false
}

func (p *Pipeline) buildGrepFileList() {
	sourceGlobs := make([]glob.Glob, 0, 8)
	for _, ext := range p.opts.Languages.Extensions() {
		sourceGlobs = append(sourceGlobs, glob.MustCompile("*"+ext))
	}
	isSource := func(base string) bool {
		for _, g := range sourceGlobs {
			if g.Match(base) {
				return true
			}
		}
		return false
	}

	filepath.WalkDir(p.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != p.opts.Root && excludedDirName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > 1<<20 {
			return nil
		}
		if isSource(d.Name()) {
			return nil
		}
		p.grepFiles = append(p.grepFiles, path)
		return nil
	})
}

func excludedDirName(name string) bool {
	switch name {
	case "venv", ".venv", "env", ".virtualenv", "vendor", "extern",
		"third_party", "node_modules", "__pycache__", "site-packages",
		"dist", "build", ".tox", ".git", ".janitor_trash", ".janitor_cache":
		return true
	}
	return false
}
