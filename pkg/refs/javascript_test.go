package refs

import (
	"testing"

	"github.com/GhrammR/the-janitor/pkg/parser"
)

func collectJS(t *testing.T, path, source string, lang parser.Language) []Candidate {
	t.Helper()
	p := parser.New()
	t.Cleanup(p.Close)
	result, err := p.Parse([]byte(source), lang, path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return CollectJSCandidates(result, nil)
}

func hasCandidate(cands []Candidate, name string, kind RefKind) bool {
	for _, c := range cands {
		if c.SymbolName == name && c.Kind == kind {
			return true
		}
	}
	return false
}

func TestJSCallsAndImports(t *testing.T) {
	cands := collectJS(t, "/p/app.js", `import { helper } from './util';

function run() {
  helper();
  const w = new Widget();
  return w.render();
}
`, parser.LangJavaScript)

	if !hasCandidate(cands, "helper", RefImport) {
		t.Error("named import should be a candidate")
	}
	if !hasCandidate(cands, "helper", RefCall) {
		t.Error("call should be a candidate")
	}
	if !hasCandidate(cands, "Widget", RefCall) {
		t.Error("new expression should reference the class")
	}
	if !hasCandidate(cands, "render", RefCall) {
		t.Error("method call should be a candidate")
	}
}

func TestJSThisMethodCarriesClassContext(t *testing.T) {
	cands := collectJS(t, "/p/svc.js", `class Service {
  start() {
    return this.connect();
  }

  connect() {
    return 1;
  }
}
`, parser.LangJavaScript)

	found := false
	for _, c := range cands {
		if c.SymbolName == "connect" && c.ClassContext == "Service" {
			found = true
		}
	}
	if !found {
		t.Error("this.connect() should carry the Service class context")
	}
}

func TestJSRouteHandlerArguments(t *testing.T) {
	cands := collectJS(t, "/p/routes.js", `const router = express.Router();
router.get('/upload', uploadHandler);
`, parser.LangJavaScript)

	if !hasCandidate(cands, "uploadHandler", RefAttribute) {
		t.Error("route handler identifier should be referenced")
	}
}

func TestJSXElementReferencesComponent(t *testing.T) {
	cands := collectJS(t, "/p/view.jsx", `function Page() {
  return <Header title="x" />;
}
`, parser.LangTSX)

	if !hasCandidate(cands, "Header", RefAttribute) {
		t.Error("JSX element should reference its component")
	}
}

func TestTSTypeIdentifiers(t *testing.T) {
	cands := collectJS(t, "/p/types.ts", `function handle(req: RequestShape): ResponseShape {
  return null as any;
}
`, parser.LangTypeScript)

	if !hasCandidate(cands, "RequestShape", RefTypeHint) {
		t.Error("parameter type should be a candidate")
	}
	if !hasCandidate(cands, "ResponseShape", RefTypeHint) {
		t.Error("return type should be a candidate")
	}
}
