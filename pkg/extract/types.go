// Package extract walks concrete syntax trees and emits Entity and Import
// records for the rest of the analysis pipeline.
package extract

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Kind classifies an extracted entity.
type Kind string

const (
	KindFunction      Kind = "function"
	KindAsyncFunction Kind = "async-function"
	KindClass         Kind = "class"
	KindMethod        Kind = "method"
	KindModuleVar     Kind = "module-variable"
	KindExport        Kind = "export"
)

// Entity is a single named top-level or class-scoped declaration.
//
// StartByte/EndByte form the half-open range [start, end) into the file's
// raw bytes and always land on UTF-8 character boundaries of the content.
// QualifiedName is unique within (FilePath, Kind); two entities may share
// Name when they differ by ParentClass.
type Entity struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	FilePath string `json:"file_path"`

	// StartByte begins at the declaration keyword. SpanStartByte begins at
	// the first decorator when the declaration is decorated, and equals
	// StartByte otherwise; the mutator splices [SpanStartByte, EndByte).
	StartByte     uint32 `json:"start_byte"`
	SpanStartByte uint32 `json:"span_start_byte"`
	EndByte       uint32 `json:"end_byte"`

	StartLine      uint32   `json:"start_line"`
	EndLine        uint32   `json:"end_line"`
	QualifiedName  string   `json:"qualified_name"`
	ParentClass    string   `json:"parent_class,omitempty"`
	BaseClasses    []string `json:"base_classes,omitempty"`
	Decorators     []string `json:"decorators,omitempty"`
	FullText       string   `json:"full_text"`
	StructuralHash string   `json:"structural_hash,omitempty"`
	DefaultExport  bool     `json:"default_export,omitempty"`

	// ProtectedBy is assigned exactly once by the first matching shield.
	ProtectedBy string `json:"protected_by,omitempty"`
}

// SymbolID is the sole canonical identity for an entity across the pipeline:
// "{canonical_file_path}::{qualified_name}".
func (e *Entity) SymbolID() string {
	qual := e.QualifiedName
	if qual == "" {
		qual = e.Name
	}
	return e.FilePath + "::" + qual
}

// IsDunder reports whether the entity name is a double-underscore method
// (__init__, __call__, ...). Bare "____" does not qualify.
func (e *Entity) IsDunder() bool {
	n := e.Name
	return len(n) > 4 && n[:2] == "__" && n[len(n)-2:] == "__"
}

// Import represents one imported name from an import-like statement.
// Multi-name imports emit one Import per name sharing a Module; a bare
// module import carries an empty Names list.
type Import struct {
	Module        string   `json:"module"`
	Names         []string `json:"names,omitempty"`
	IsRelative    bool     `json:"is_relative,omitempty"`
	RelativeLevel int      `json:"relative_level,omitempty"`
	Line          uint32   `json:"line"`
	FilePath      string   `json:"file_path"`
}

// structuralHash fingerprints an entity's source text for the dedup layer.
func structuralHash(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
