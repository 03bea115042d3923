package refs

import (
	"path/filepath"
	"sort"

	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/RoaringBitmap/roaring/v2"
)

// Tracker maintains the definitions table, the reference graph, the
// inheritance map, and the package-export set for one analysis run. The
// reference graph is append-only within a run and discarded between runs.
//
// Not safe for concurrent writers; the orchestrator merges per-file
// candidate batches under a single writer.
type Tracker struct {
	defs    map[string]*extract.Entity
	order   []string
	byName  map[string][]string
	refs    map[string][]Reference
	nodeIDs map[string]uint32
	nextID  uint32

	// Per-kind in-degree sets over node ids: the pipeline distinguishes
	// intra-file from cross-file use without rescanning reference lists.
	crossFile *roaring.Bitmap
	intraFile *roaring.Bitmap
	synthetic *roaring.Bitmap

	inherit        *InheritanceMap
	packageExports map[string]bool

	// constructor shield applied once per class per run
	shieldedClasses map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		defs:            make(map[string]*extract.Entity),
		byName:          make(map[string][]string),
		refs:            make(map[string][]Reference),
		nodeIDs:         make(map[string]uint32),
		crossFile:       roaring.New(),
		intraFile:       roaring.New(),
		synthetic:       roaring.New(),
		inherit:         NewInheritanceMap(),
		packageExports:  make(map[string]bool),
		shieldedClasses: make(map[string]bool),
	}
}

// AddDefinition registers an entity, feeding classes and methods into the
// inheritance map.
func (t *Tracker) AddDefinition(e *extract.Entity) {
	id := e.SymbolID()
	if _, exists := t.defs[id]; exists {
		return
	}
	t.defs[id] = e
	t.order = append(t.order, id)
	t.byName[e.Name] = append(t.byName[e.Name], id)
	if e.QualifiedName != "" && e.QualifiedName != e.Name {
		t.byName[e.QualifiedName] = append(t.byName[e.QualifiedName], id)
	}
	t.nodeIDs[id] = t.nextID
	t.nextID++

	switch {
	case e.Kind == extract.KindClass:
		t.inherit.AddClass(e.Name, e.BaseClasses)
	case e.ParentClass != "":
		t.inherit.AddMethod(e.ParentClass, e.Name, id)
	}
}

// Definitions returns entities in insertion order.
func (t *Tracker) Definitions() []*extract.Entity {
	out := make([]*extract.Entity, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.defs[id])
	}
	return out
}

// Lookup returns the entity for a symbol id, if defined.
func (t *Tracker) Lookup(symbolID string) (*extract.Entity, bool) {
	e, ok := t.defs[symbolID]
	return e, ok
}

// Inheritance exposes the inheritance map to the pipeline heuristics.
func (t *Tracker) Inheritance() *InheritanceMap {
	return t.inherit
}

// ReferencesOf returns every reference bound to a symbol id.
func (t *Tracker) ReferencesOf(symbolID string) []Reference {
	return t.refs[symbolID]
}

// InPackageExports reports whether the symbol was imported into any
// package __init__ module.
func (t *Tracker) InPackageExports(e *extract.Entity) bool {
	return t.packageExports[e.SymbolID()]
}

// HasCrossFileReference reports a reference whose source file differs from
// the entity's own file.
func (t *Tracker) HasCrossFileReference(e *extract.Entity) bool {
	id, ok := t.nodeIDs[e.SymbolID()]
	return ok && t.crossFile.Contains(id)
}

// HasIntraFileReference reports a same-file reference, including synthetic
// shield references.
func (t *Tracker) HasIntraFileReference(e *extract.Entity) bool {
	id, ok := t.nodeIDs[e.SymbolID()]
	return ok && t.intraFile.Contains(id)
}

// NonSyntheticInDegree counts references excluding shield-synthesised ones.
func (t *Tracker) NonSyntheticInDegree(e *extract.Entity) int {
	count := 0
	for _, ref := range t.refs[e.SymbolID()] {
		if !ref.Kind.IsSynthetic() {
			count++
		}
	}
	return count
}

// Resolve applies a batch of candidates against the definitions table.
// Call after every definition has been ingested.
func (t *Tracker) Resolve(candidates []Candidate) {
	for _, c := range candidates {
		t.AddReference(c)
	}
}

// AddReference resolves a single candidate by the three strategies in
// order: cross-module import resolution, class-context resolution with a
// mandatory name fallback, then name/qualified-name matching. Candidates
// that bind to no definition are dropped.
func (t *Tracker) AddReference(c Candidate) {
	if c.SymbolName == "" {
		return
	}

	ref := Reference{
		SymbolName: c.SymbolName,
		SourceFile: c.SourceFile,
		Line:       c.Line,
		Kind:       c.Kind,
	}

	// Strategy 1: the referrer imported the name from a known file.
	if c.TargetFile != "" {
		target := canonicalPath(c.TargetFile)
		for _, id := range t.byName[c.SymbolName] {
			e := t.defs[id]
			if canonicalPath(e.FilePath) != target {
				continue
			}
			t.attach(id, ref)
			if c.PackageExport {
				t.packageExports[id] = true
			}
			if e.Kind == extract.KindClass {
				t.activateConstructorShield(e, c.SourceFile, c.Line)
			}
			return
		}
		// An import that resolves to a known file but an unknown name
		// stays unbound; name fallback would cross module boundaries.
		return
	}

	// Strategy 2: self/cls or inferred-receiver method resolution.
	if c.ClassContext != "" {
		matched := false
		for _, id := range t.byName[c.SymbolName] {
			e := t.defs[id]
			if e.ParentClass != c.ClassContext || e.Name != c.SymbolName {
				continue
			}
			t.attach(id, ref)
			t.protectMethodFamily(c.ClassContext, c.SymbolName, c.SourceFile, c.Line)
			matched = true
		}
		if matched {
			return
		}
		// Mandatory fallback to strategy 3: without it, methods called
		// via self._method() become false positives.
	}

	// Strategy 3: name or qualified-name fallback. Ambiguous matches
	// produce one edge per matching definition.
	for _, id := range t.byName[c.SymbolName] {
		e := t.defs[id]
		t.attach(id, ref)
		if e.Kind == extract.KindClass {
			t.activateConstructorShield(e, c.SourceFile, c.Line)
		}
		if e.ParentClass != "" {
			t.protectMethodFamily(e.ParentClass, e.Name, c.SourceFile, c.Line)
		}
	}
}

func (t *Tracker) attach(symbolID string, ref Reference) {
	t.refs[symbolID] = append(t.refs[symbolID], ref)
	nodeID := t.nodeIDs[symbolID]
	entity := t.defs[symbolID]

	if ref.Kind.IsSynthetic() {
		t.synthetic.Add(nodeID)
	}
	if ref.SourceFile != "" && entity != nil && ref.SourceFile != entity.FilePath {
		t.crossFile.Add(nodeID)
	} else {
		t.intraFile.Add(nodeID)
	}
}

// activateConstructorShield awards a synthetic reference to every dunder
// method of a referenced class. Applied once per class per run.
func (t *Tracker) activateConstructorShield(class *extract.Entity, refFile string, refLine uint32) {
	if t.shieldedClasses[class.SymbolID()] {
		return
	}
	t.shieldedClasses[class.SymbolID()] = true

	for _, id := range t.order {
		e := t.defs[id]
		if e.ParentClass != class.Name || !e.IsDunder() {
			continue
		}
		t.attach(id, Reference{
			SymbolName: class.Name + "." + e.Name,
			SourceFile: e.FilePath,
			Line:       refLine,
			Kind:       RefConstructorShield,
		})
	}
}

// protectMethodFamily awards a synthetic reference to every override of
// method below class in the inheritance map.
func (t *Tracker) protectMethodFamily(class, method, refFile string, refLine uint32) {
	for _, id := range t.inherit.DescendantImplementations(class, method) {
		e, ok := t.defs[id]
		if !ok {
			continue
		}
		t.attach(id, Reference{
			SymbolName: method,
			SourceFile: e.FilePath,
			Line:       refLine,
			Kind:       RefInheritanceShield,
		})
	}
}

// frameworkLifecycleBases maps framework base classes to the lifecycle
// methods they call implicitly.
var frameworkLifecycleBases = map[string][]string{
	"unittest.TestCase": {"setUp", "tearDown", "setUpClass", "tearDownClass", "setUpModule", "tearDownModule"},
	"TestCase":          {"setUp", "tearDown", "setUpClass", "tearDownClass"},
}

// ApplyFrameworkLifecycleProtection protects lifecycle methods of classes
// inheriting from known framework bases. Call after all definitions are
// ingested.
func (t *Tracker) ApplyFrameworkLifecycleProtection() {
	for _, id := range t.order {
		class := t.defs[id]
		if class.Kind != extract.KindClass || len(class.BaseClasses) == 0 {
			continue
		}
		for _, base := range class.BaseClasses {
			for frameworkBase, methods := range frameworkLifecycleBases {
				if base != frameworkBase && !hasDottedSuffix(base, frameworkBase) {
					continue
				}
				for _, methodID := range t.order {
					method := t.defs[methodID]
					if method.ParentClass != class.Name || !contains(methods, method.Name) {
						continue
					}
					t.attach(methodID, Reference{
						SymbolName: method.Name,
						SourceFile: method.FilePath,
						Line:       method.StartLine,
						Kind:       RefConstructorShield,
					})
				}
			}
		}
	}
}

// SortedSymbolIDs returns all defined symbol ids in a stable order.
func (t *Tracker) SortedSymbolIDs() []string {
	ids := make([]string, len(t.order))
	copy(ids, t.order)
	sort.Strings(ids)
	return ids
}

func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

func hasDottedSuffix(s, suffix string) bool {
	return len(s) > len(suffix)+1 && s[len(s)-len(suffix)-1] == '.' && s[len(s)-len(suffix):] == suffix
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
