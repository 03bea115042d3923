// Package refs builds the symbol-level reference graph: a definitions table
// keyed by SymbolId, the references binding to it, the inheritance map, and
// the variable-type registry used to resolve indirect method calls.
package refs

// RefKind classifies how a reference binds to its target.
type RefKind string

const (
	RefCall              RefKind = "call"
	RefAttribute         RefKind = "attribute"
	RefImport            RefKind = "import"
	RefTypeHint          RefKind = "type-hint"
	RefString            RefKind = "string"
	RefConstructorShield RefKind = "constructor-shield"
	RefInheritanceShield RefKind = "inheritance-shield"
)

// IsSynthetic reports whether the kind was emitted by a shield rather than
// observed in source.
func (k RefKind) IsSynthetic() bool {
	return k == RefConstructorShield || k == RefInheritanceShield
}

// Reference records one resolved binding to a symbol.
type Reference struct {
	SymbolName   string  `json:"symbol_name"`
	SourceFile   string  `json:"source_file"`
	SourceSymbol string  `json:"source_symbol,omitempty"`
	Line         uint32  `json:"line"`
	Kind         RefKind `json:"kind"`
}

// Candidate is one unresolved reference collected by the ingestion walk.
// Candidates are pure per-file artifacts: the cache stores them verbatim so
// resolution can be replayed without re-parsing.
type Candidate struct {
	SymbolName   string  `json:"symbol_name"`
	SourceFile   string  `json:"source_file"`
	Line         uint32  `json:"line"`
	Kind         RefKind `json:"kind"`
	TargetFile   string  `json:"target_file,omitempty"`
	ClassContext string  `json:"class_context,omitempty"`

	// PackageExport marks a name imported into a package __init__ module;
	// resolution feeds it into the package-export set.
	PackageExport bool `json:"package_export,omitempty"`
}
