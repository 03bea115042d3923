package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/extract"
	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/GhrammR/the-janitor/pkg/refs"
	"github.com/GhrammR/the-janitor/pkg/wisdom"
)

func newRegistry(t *testing.T) *wisdom.Registry {
	t.Helper()
	r, err := wisdom.NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func ingestPython(t *testing.T, tracker *refs.Tracker, path, source string) {
	t.Helper()
	p := parser.New()
	t.Cleanup(p.Close)
	result, err := p.Parse([]byte(source), parser.LangPython, path)
	if err != nil {
		t.Fatal(err)
	}
	entities := extract.New(parser.LangPython).Entities(result)
	for i := range entities {
		tracker.AddDefinition(&entities[i])
	}
	tracker.Resolve(refs.CollectPythonCandidates(result, nil, false))
}

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, tracker *refs.Tracker, opts Options) *Result {
	t.Helper()
	return New(tracker, newRegistry(t), opts).Run()
}

func tagsByName(result *Result) map[string]string {
	tags := make(map[string]string)
	for _, e := range result.Protected {
		tags[e.QualifiedName] = e.ProtectedBy
	}
	return tags
}

func deadNames(result *Result) map[string]bool {
	dead := make(map[string]bool)
	for _, e := range result.Dead {
		dead[e.QualifiedName] = true
	}
	return dead
}

func TestDeadSymbolDetected(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "app/mod.py", `def alive():
    return zz_dead_helper_name_probe() if False else 1

def genuinely_unused_fn():
    return 2

alive()
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})

	if !deadNames(result)["genuinely_unused_fn"] {
		t.Errorf("genuinely_unused_fn should be dead; dead=%v protected=%v",
			deadNames(result), tagsByName(result))
	}
	if deadNames(result)["alive"] {
		t.Error("alive is called at module level")
	}
}

func TestDirectoryShield(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "tests/test_mod.py", "def totally_unused():\n    pass\n")

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})
	if tags := tagsByName(result); tags["totally_unused"] != TagDirectory {
		t.Errorf("tag = %q, want %q", tags["totally_unused"], TagDirectory)
	}
}

// Qt slot auto-connection: on_<object>_<signal> methods on Qt widget
// subclasses are wired by name at runtime.
func TestQtSlotProtected(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "ui/window.py", `class Main(QMainWindow):
    def on_save_clicked(self):
        return None
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})
	tag := tagsByName(result)["Main.on_save_clicked"]
	if tag == "" {
		t.Fatal("on_save_clicked must be protected")
	}
}

// Metaprogramming quarantine: every symbol in a file using getattr is
// protected.
func TestMetaprogrammingDanger(t *testing.T) {
	root := t.TempDir()
	source := `def aa_dispatch_target():
    return 1

def bb_dispatch_target():
    return 2

def call(name):
    return getattr(__import__('dispatch'), name)()
`
	path := writeSource(t, root, "app/dispatch.py", source)

	if !ContainsDangerPattern(source) {
		t.Fatal("getattr( should register as a danger pattern")
	}

	tracker := refs.NewTracker()
	ingestPython(t, tracker, path, source)

	result := run(t, tracker, Options{
		Root:        root,
		Languages:   config.SelectPython,
		DangerFiles: map[string]bool{path: true},
	})

	tags := tagsByName(result)
	for _, name := range []string{"aa_dispatch_target", "bb_dispatch_target"} {
		if tags[name] != TagMetaprogramming {
			t.Errorf("%s tag = %q, want %q", name, tags[name], TagMetaprogramming)
		}
	}
}

func TestLibraryModeProtectsPublicOnly(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "lib/api.py", `def public_api_fn():
    return 1

def _private_detail_fn():
    return 2
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{
		Root:        root,
		Languages:   config.SelectPython,
		LibraryMode: true,
	})

	tags := tagsByName(result)
	if tags["public_api_fn"] != TagLibraryMode {
		t.Errorf("public symbol tag = %q", tags["public_api_fn"])
	}
	if !deadNames(result)["_private_detail_fn"] {
		t.Error("underscore-prefixed symbols stay eligible in library mode")
	}
}

type fakeConfigRefs map[string]bool

func (f fakeConfigRefs) Contains(name string) bool { return f[name] }

// Lambda handler: a function named only in serverless.yml survives via the
// config-reference shield.
func TestConfigReferenceShield(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "handlers/image.py", `def upload(event, ctx):
    return "stored"
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{
		Root:       root,
		Languages:  config.SelectPython,
		ConfigRefs: fakeConfigRefs{"upload": true},
	})

	if tag := tagsByName(result)["upload"]; tag != TagConfigReference {
		t.Errorf("tag = %q, want %q", tag, TagConfigReference)
	}
}

func TestPackageExportShield(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "pkg/core.py", "def exported_helper():\n    return 1\n")

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	// Simulate the __init__ import without a same-file reference.
	tracker.AddReference(refs.Candidate{
		SymbolName:    "exported_helper",
		SourceFile:    filepath.Join(root, "pkg", "__init__.py"),
		Kind:          refs.RefImport,
		TargetFile:    path,
		PackageExport: true,
	})

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})

	// The import itself is a cross-file reference, which shields first.
	if tag := tagsByName(result)["exported_helper"]; tag != TagReferenced {
		t.Errorf("tag = %q, want %q", tag, TagReferenced)
	}
}

func TestEntryPointShield(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "app/cli.py", `def main():
    return 0
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})
	if tag := tagsByName(result)["main"]; tag != TagEntryPoint {
		t.Errorf("tag = %q, want %q", tag, TagEntryPoint)
	}
}

func TestUnreferencedClassIsDead(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "app/ghost.py", `class GhostUnusedCls:
    def method_on_ghost(self):
        return 1
`)

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{Root: root, Languages: config.SelectPython})
	if !deadNames(result)["GhostUnusedCls"] {
		t.Errorf("unreferenced class should be dead; tags=%v", tagsByName(result))
	}
}

func TestGrepShield(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "app/tasks.py", "def nightly_rollup_task():\n    return 1\n")
	writeSource(t, root, "deploy/crontab.txt", "0 3 * * * run nightly_rollup_task\n")

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	result := run(t, tracker, Options{
		Root:       root,
		Languages:  config.SelectPython,
		GrepShield: true,
	})

	if tag := tagsByName(result)["nightly_rollup_task"]; tag != TagGrepShield {
		t.Errorf("tag = %q, want %q", tag, TagGrepShield)
	}
}

func TestProtectedByAssignedOnce(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "tests/helper.py", "def already():\n    pass\n")

	tracker := refs.NewTracker()
	data, _ := os.ReadFile(path)
	ingestPython(t, tracker, path, string(data))

	p := New(tracker, newRegistry(t), Options{Root: root, Languages: config.SelectPython})
	first := p.Run()
	tag := tagsByName(first)["already"]

	second := New(tracker, newRegistry(t), Options{Root: root, Languages: config.SelectPython}).Run()
	if got := tagsByName(second)["already"]; got != tag {
		t.Errorf("ProtectedBy must be stable once assigned: %q vs %q", tag, got)
	}
}
