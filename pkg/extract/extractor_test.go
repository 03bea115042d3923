package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/GhrammR/the-janitor/pkg/parser"
)

func parseSource(t *testing.T, source string, lang parser.Language) *parser.ParseResult {
	t.Helper()
	p := parser.New()
	t.Cleanup(p.Close)
	result, err := p.Parse([]byte(source), lang, "test."+extFor(lang))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return result
}

func extFor(lang parser.Language) string {
	switch lang {
	case parser.LangPython:
		return "py"
	case parser.LangTypeScript:
		return "ts"
	default:
		return "js"
	}
}

func findEntity(entities []Entity, qualified string) *Entity {
	for i := range entities {
		if entities[i].QualifiedName == qualified {
			return &entities[i]
		}
	}
	return nil
}

const pySample = `import os
from .utils import helper

CONSTANT = 42

def top_level():
    return helper()

async def fetch():
    pass

@app.route("/health")
def health():
    return "ok"

class Service(BaseService, mixins.Loggable):
    def __init__(self):
        self.ready = True

    def run(self):
        return self._step()

    def _step(self):
        return 1
`

func TestExtractPythonEntities(t *testing.T) {
	result := parseSource(t, pySample, parser.LangPython)
	entities := New(parser.LangPython).Entities(result)

	tests := []struct {
		qualified string
		kind      Kind
		parent    string
	}{
		{"CONSTANT", KindModuleVar, ""},
		{"top_level", KindFunction, ""},
		{"fetch", KindAsyncFunction, ""},
		{"health", KindFunction, ""},
		{"Service", KindClass, ""},
		{"Service.__init__", KindMethod, "Service"},
		{"Service.run", KindMethod, "Service"},
		{"Service._step", KindMethod, "Service"},
	}

	for _, tt := range tests {
		e := findEntity(entities, tt.qualified)
		if e == nil {
			t.Errorf("missing entity %q", tt.qualified)
			continue
		}
		if e.Kind != tt.kind {
			t.Errorf("%s kind = %v, want %v", tt.qualified, e.Kind, tt.kind)
		}
		if e.ParentClass != tt.parent {
			t.Errorf("%s parent = %q, want %q", tt.qualified, e.ParentClass, tt.parent)
		}
	}

	service := findEntity(entities, "Service")
	if len(service.BaseClasses) != 2 || service.BaseClasses[0] != "BaseService" || service.BaseClasses[1] != "mixins.Loggable" {
		t.Errorf("base classes = %v", service.BaseClasses)
	}

	health := findEntity(entities, "health")
	if len(health.Decorators) != 1 || !strings.HasPrefix(health.Decorators[0], "@app.route") {
		t.Errorf("decorators = %v", health.Decorators)
	}
}

// Slicing the file's bytes at each entity's byte range yields text that
// begins with the declaration keyword for the kind, and both ends land on
// UTF-8 character boundaries.
func TestPythonByteRangeInvariants(t *testing.T) {
	source := pySample
	result := parseSource(t, source, parser.LangPython)
	entities := New(parser.LangPython).Entities(result)

	data := []byte(source)
	for _, e := range entities {
		if int(e.EndByte) > len(data) || e.StartByte >= e.EndByte {
			t.Fatalf("%s: bad byte range [%d, %d)", e.QualifiedName, e.StartByte, e.EndByte)
		}

		text := string(data[e.StartByte:e.EndByte])
		var keyword string
		switch e.Kind {
		case KindFunction, KindMethod:
			keyword = "def"
		case KindAsyncFunction:
			keyword = "async"
		case KindClass:
			keyword = "class"
		}
		if keyword != "" && !strings.HasPrefix(text, keyword) {
			t.Errorf("%s: slice starts with %q, want keyword %q", e.QualifiedName, text[:min(10, len(text))], keyword)
		}

		if !utf8.ValidString(string(data[e.SpanStartByte:e.EndByte])) {
			t.Errorf("%s: span not on UTF-8 boundaries", e.QualifiedName)
		}
	}
}

func TestPythonDecoratedSpanIncludesDecorators(t *testing.T) {
	result := parseSource(t, pySample, parser.LangPython)
	entities := New(parser.LangPython).Entities(result)

	health := findEntity(entities, "health")
	if health.SpanStartByte >= health.StartByte {
		t.Errorf("decorated entity span should start before the def keyword")
	}
	span := pySample[health.SpanStartByte:health.EndByte]
	if !strings.HasPrefix(span, "@app.route") {
		t.Errorf("span = %q, want to start at the decorator", span[:20])
	}
}

func TestExtractPythonImports(t *testing.T) {
	source := `import os
import os.path as osp
from collections import OrderedDict, defaultdict
from . import sibling
from ..pkg import thing
from black.nodes import (
    is_import,
    is_docstring,
)
`
	result := parseSource(t, source, parser.LangPython)
	imports := New(parser.LangPython).Imports(result)

	type want struct {
		module   string
		name     string
		relative bool
		level    int
	}
	wants := []want{
		{"os", "", false, 0},
		{"os.path", "", false, 0},
		{"collections", "OrderedDict", false, 0},
		{"collections", "defaultdict", false, 0},
		{"", "sibling", true, 1},
		{"pkg", "thing", true, 2},
		{"black.nodes", "is_import", false, 0},
		{"black.nodes", "is_docstring", false, 0},
	}

	for _, w := range wants {
		found := false
		for _, imp := range imports {
			name := ""
			if len(imp.Names) > 0 {
				name = imp.Names[0]
			}
			if imp.Module == w.module && name == w.name &&
				imp.IsRelative == w.relative && imp.RelativeLevel == w.level {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing import %+v in %+v", w, imports)
		}
	}
}

const tsSample = `import { api } from './api';

export function publicFn(): number {
  return 1;
}

export default class App extends Base {
  render() {
    return api();
  }
}

const local = () => 2;

export { local as exported };
`

func TestExtractTSEntities(t *testing.T) {
	result := parseSource(t, tsSample, parser.LangTypeScript)
	entities := New(parser.LangTypeScript).Entities(result)

	publicFn := findEntity(entities, "publicFn")
	if publicFn == nil || publicFn.Kind != KindFunction {
		t.Fatalf("publicFn not extracted: %+v", entities)
	}
	if publicFn.DefaultExport {
		t.Error("publicFn is a named export, not default")
	}

	app := findEntity(entities, "App")
	if app == nil || app.Kind != KindClass {
		t.Fatal("App class not extracted")
	}
	if !app.DefaultExport {
		t.Error("App should be tagged as default export")
	}
	if len(app.BaseClasses) != 1 || app.BaseClasses[0] != "Base" {
		t.Errorf("App bases = %v", app.BaseClasses)
	}

	render := findEntity(entities, "App.render")
	if render == nil || render.Kind != KindMethod || render.ParentClass != "App" {
		t.Error("render method not scoped to App")
	}

	local := findEntity(entities, "local")
	if local == nil || local.Kind != KindFunction {
		t.Error("arrow-function binding should extract as a function")
	}

	var exported *Entity
	for i := range entities {
		if entities[i].Kind == KindExport && entities[i].Name == "local" {
			exported = &entities[i]
		}
	}
	if exported == nil {
		t.Error("export clause name should be visible")
	}
}

func TestExtractJSImports(t *testing.T) {
	source := `import { a, b } from './mod';
import def from './other';
const util = require('./util');
import 'side-effect';
`
	result := parseSource(t, source, parser.LangJavaScript)
	imports := New(parser.LangJavaScript).Imports(result)

	byModule := make(map[string]int)
	for _, imp := range imports {
		byModule[imp.Module]++
		if strings.HasPrefix(imp.Module, "./") && !imp.IsRelative {
			t.Errorf("%s should be relative", imp.Module)
		}
	}

	if byModule["./mod"] != 2 {
		t.Errorf("./mod should emit one import per name, got %d", byModule["./mod"])
	}
	if byModule["./other"] != 1 {
		t.Errorf("./other imports = %d", byModule["./other"])
	}
	if byModule["./util"] != 1 {
		t.Errorf("require('./util') not extracted")
	}
	if byModule["side-effect"] != 1 {
		t.Errorf("bare import not extracted")
	}
}

func TestSymbolID(t *testing.T) {
	e := Entity{Name: "run", QualifiedName: "Service.run", FilePath: "/p/a.py"}
	if got := e.SymbolID(); got != "/p/a.py::Service.run" {
		t.Errorf("SymbolID() = %q", got)
	}
}

func TestIsDunder(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"__init__", true},
		{"__call__", true},
		{"____", false},
		{"_private", false},
		{"run", false},
	}
	for _, tt := range tests {
		e := Entity{Name: tt.name}
		if got := e.IsDunder(); got != tt.want {
			t.Errorf("IsDunder(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
