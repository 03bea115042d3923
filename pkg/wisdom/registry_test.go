package wisdom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GhrammR/the-janitor/pkg/parser"
)

func TestEmbeddedRulesLoad(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	community, premium := r.RuleCounts()
	if community == 0 {
		t.Error("embedded community rules should load")
	}
	if premium != 0 {
		t.Errorf("no premium rules embedded, got %d", premium)
	}
	if r.HasPremium() {
		t.Error("HasPremium should be false")
	}
}

func TestIsImmortalDecorator(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	text := "@app.route(\"/x\")\ndef handler_fn():\n    pass\n"
	match := r.IsImmortal("handler_fn", text, parser.LangPython)
	if match == nil {
		t.Fatal("flask route decorator should be immortal")
	}
	if match.Framework != "Flask" {
		t.Errorf("framework = %q, want Flask", match.Framework)
	}
}

func TestResolutionOrder(t *testing.T) {
	dir := t.TempDir()
	community := filepath.Join(dir, "community")
	if err := os.MkdirAll(community, 0o755); err != nil {
		t.Fatal(err)
	}
	pack := `{
  "exact_matches": ["special"],
  "prefix_matches": ["spec"],
  "suffix_matches": [".connect"],
  "syntax_markers": ["__magic_marker__"]
}`
	if err := os.WriteFile(filepath.Join(community, "meta.json"), []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	// Exact beats prefix even though both would match.
	match := r.IsImmortal("special", "def special(): pass", parser.LangPython)
	if match == nil || match.Reason != "Exact match: special" {
		t.Errorf("exact match should win first: %+v", match)
	}

	// Prefix fires when exact does not.
	match = r.IsImmortal("specialised", "def specialised(): pass", parser.LangPython)
	if match == nil || match.Reason != "Prefix match: spec" {
		t.Errorf("prefix match expected: %+v", match)
	}

	// Prefix also applies to the segment after the last dot.
	match = r.IsImmortal("Cls.specific", "def specific(self): pass", parser.LangPython)
	if match == nil || match.Reason != "Prefix match: spec" {
		t.Errorf("qualified-name prefix expected: %+v", match)
	}

	// Suffix matches on decorator lines.
	match = r.IsImmortal("other", "@signal.connect\ndef other(): pass", parser.LangPython)
	if match == nil || match.Reason != "Suffix match: .connect" {
		t.Errorf("decorator suffix expected: %+v", match)
	}

	// Syntax marker in the body.
	match = r.IsImmortal("other", "def other():\n    return __magic_marker__\n", parser.LangPython)
	if match == nil || match.Reason != "Syntax marker: __magic_marker__" {
		t.Errorf("syntax marker expected: %+v", match)
	}
}

func TestDunderAndPropertyStages(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "community"), 0o755); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}

	if match := r.IsImmortal("__repr__", "def __repr__(self): ...", parser.LangPython); match == nil {
		t.Error("dunder methods are implicitly protected")
	}
	if match := r.IsImmortal("____", "def ____(): ...", parser.LangPython); match != nil {
		t.Error("bare ____ is not a dunder")
	}
	if match := r.IsImmortal("value", "@property\ndef value(self): ...", parser.LangPython); match == nil {
		t.Error("@property is protected")
	}
	if match := r.IsImmortal("plain", "def plain(): ...", parser.LangPython); match != nil {
		t.Errorf("plain function should not match: %+v", match)
	}
}

func TestFrameworkKeyedJSRules(t *testing.T) {
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}

	match := r.IsImmortal("Widget", "function Widget() { useEffect(() => {}); }", parser.LangTypeScript)
	if match == nil {
		t.Fatal("React hook marker should protect")
	}
	if match.Framework != "React" {
		t.Errorf("framework = %q", match.Framework)
	}

	if match := r.IsImmortal("plainFn", "function plainFn() { return 1; }", parser.LangJavaScript); match != nil {
		t.Errorf("plain JS function should not match: %+v", match)
	}
}

func TestImmortalityRulePack(t *testing.T) {
	dir := t.TempDir()
	community := filepath.Join(dir, "community")
	if err := os.MkdirAll(community, 0o755); err != nil {
		t.Fatal(err)
	}
	pack := `{
  "immortality_rules": [
    {"framework": "Worker", "patterns": ["@worker.job"], "type": "decorator", "action": "protect"},
    {"framework": "Worker", "patterns": ["register_job("], "type": "syntax_marker", "action": "protect"}
  ]
}`
	if err := os.WriteFile(filepath.Join(community, "worker.json"), []byte(pack), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}

	if match := r.IsImmortal("job_fn", "@worker.job\ndef job_fn(): ...", parser.LangPython); match == nil || match.Framework != "Worker" {
		t.Errorf("decorator pattern should protect: %+v", match)
	}
	if match := r.IsImmortal("other", "def other():\n    register_job(other)\n", parser.LangPython); match == nil {
		t.Error("syntax marker pattern should protect")
	}
}

func TestPremiumTierLoads(t *testing.T) {
	dir := t.TempDir()
	for _, tier := range []string{"community", "premium"} {
		if err := os.MkdirAll(filepath.Join(dir, tier), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	communityPack := `{"exact_matches": ["free_rule"]}`
	premiumPack := `{"exact_matches": ["paid_rule"]}`
	os.WriteFile(filepath.Join(dir, "community", "c.json"), []byte(communityPack), 0o644)
	os.WriteFile(filepath.Join(dir, "premium", "p.json"), []byte(premiumPack), 0o644)

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasPremium() {
		t.Error("premium tier should be detected")
	}

	match := r.IsImmortal("paid_rule", "", parser.LangPython)
	if match == nil || match.Tier != TierPremium {
		t.Errorf("premium rule expected: %+v", match)
	}
}

func TestMalformedPackSkipped(t *testing.T) {
	dir := t.TempDir()
	community := filepath.Join(dir, "community")
	if err := os.MkdirAll(community, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(community, "bad.json"), []byte(`["not", "a", "pack"]`), 0o644)
	os.WriteFile(filepath.Join(community, "good.json"), []byte(`{"exact_matches": ["ok_rule"]}`), 0o644)

	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("malformed pack must not be fatal: %v", err)
	}
	if match := r.IsImmortal("ok_rule", "", parser.LangPython); match == nil {
		t.Error("valid pack should still load")
	}
}
