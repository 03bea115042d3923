package extract

import (
	"github.com/GhrammR/the-janitor/pkg/parser"
)

// Extractor emits Entity and Import records from a parsed file.
type Extractor struct {
	lang parser.Language
}

// New creates an extractor for the given language.
func New(lang parser.Language) *Extractor {
	return &Extractor{lang: lang}
}

// Entities walks the tree and returns every declared entity: top-level
// functions and classes, methods scoped to their enclosing class, bare-name
// module assignments, and JS/TS exports.
//
// Malformed subtrees are skipped; this never fails.
func (x *Extractor) Entities(result *parser.ParseResult) []Entity {
	if result == nil || result.Tree == nil {
		return nil
	}
	switch {
	case x.lang == parser.LangPython:
		return extractPythonEntities(result)
	case x.lang.IsJS():
		return extractJSEntities(result)
	}
	return nil
}

// Imports returns one Import record per imported name of each import-like
// statement (one record for a bare module import), honouring Python
// relative levels and JS require() calls.
func (x *Extractor) Imports(result *parser.ParseResult) []Import {
	if result == nil || result.Tree == nil {
		return nil
	}
	switch {
	case x.lang == parser.LangPython:
		return extractPythonImports(result)
	case x.lang.IsJS():
		return extractJSImports(result)
	}
	return nil
}
