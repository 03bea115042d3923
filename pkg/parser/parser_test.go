package parser

import (
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"main.py", LangPython},
		{"types.pyi", LangPython},
		{"app.ts", LangTypeScript},
		{"view.tsx", LangTSX},
		{"view.jsx", LangTSX},
		{"index.js", LangJavaScript},
		{"mod.mjs", LangJavaScript},
		{"README.md", LangUnknown},
		{"Makefile", LangUnknown},
	}

	for _, tt := range tests {
		if got := DetectLanguage(tt.path); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParsePython(t *testing.T) {
	p := New()
	defer p.Close()

	source := []byte("def greet(name):\n    return f\"hi {name}\"\n")
	result, err := p.Parse(source, LangPython, "greet.py")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if result.Tree == nil {
		t.Fatal("Parse() returned nil tree")
	}

	fns := FindNodesByType(result.Tree.RootNode(), source, "function_definition")
	if len(fns) != 1 {
		t.Fatalf("expected 1 function_definition, got %d", len(fns))
	}
	if got := GetNodeText(fns[0].ChildByFieldName("name"), source); got != "greet" {
		t.Errorf("function name = %q, want greet", got)
	}
}

func TestParseInvalidInputProducesBestEffortTree(t *testing.T) {
	p := New()
	defer p.Close()

	source := []byte("def broken(:\n    pass\n\ndef fine():\n    pass\n")
	result, err := p.Parse(source, LangPython, "broken.py")
	if err != nil {
		t.Fatalf("Parse() should tolerate invalid input, got: %v", err)
	}
	if result.Tree == nil {
		t.Fatal("expected best-effort tree for invalid input")
	}

	// The intact definition is still visible.
	fns := FindNodesByType(result.Tree.RootNode(), source, "function_definition")
	if len(fns) == 0 {
		t.Error("expected the valid function to parse")
	}
}

func TestGetNodeTextBounds(t *testing.T) {
	if got := GetNodeText(nil, []byte("x")); got != "" {
		t.Errorf("GetNodeText(nil) = %q, want empty", got)
	}
}

func TestIsJS(t *testing.T) {
	if LangPython.IsJS() {
		t.Error("python is not a JS-family language")
	}
	for _, lang := range []Language{LangJavaScript, LangTypeScript, LangTSX} {
		if !lang.IsJS() {
			t.Errorf("%v should be JS-family", lang)
		}
	}
}
