package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/GhrammR/the-janitor/pkg/config"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func scanConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = false
	return cfg
}

func basenames(files []string) map[string]bool {
	names := make(map[string]bool)
	for _, f := range files {
		names[filepath.Base(f)] = true
	}
	return names
}

func TestScanDirFindsSourceFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py")
	writeFile(t, root, "web/index.ts")
	writeFile(t, root, "README.md")

	files, err := NewScanner(scanConfig()).ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}

	names := basenames(files)
	if !names["app.py"] || !names["index.ts"] {
		t.Errorf("missing source files: %v", files)
	}
	if names["README.md"] {
		t.Error("non-source files should be skipped")
	}
}

func TestScanDirExcludesVendoredDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py")
	writeFile(t, root, "node_modules/lib/dep.js")
	writeFile(t, root, "venv/site/pkg.py")
	writeFile(t, root, "__pycache__/app.py")
	writeFile(t, root, ".janitor_cache/stale.py")

	files, err := NewScanner(scanConfig()).ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}

	if len(files) != 1 || filepath.Base(files[0]) != "app.py" {
		t.Errorf("vendored dirs should be excluded: %v", files)
	}
}

func TestIncludeVendoredFlag(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py")
	writeFile(t, root, "vendor/dep.py")

	cfg := scanConfig()
	cfg.IncludeVendored = true
	files, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}

	if !basenames(files)["dep.py"] {
		t.Errorf("include-vendored should keep vendor/: %v", files)
	}
}

func TestLanguageSelectorFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py")
	writeFile(t, root, "web.ts")

	cfg := scanConfig()
	cfg.Languages = config.SelectPython
	files, err := NewScanner(cfg).ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}

	names := basenames(files)
	if !names["app.py"] || names["web.ts"] {
		t.Errorf("selector should keep only python files: %v", files)
	}
}

func TestConfigExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py")
	writeFile(t, root, "bundle.min.js")

	files, err := NewScanner(scanConfig()).ScanDir(root)
	if err != nil {
		t.Fatal(err)
	}

	if basenames(files)["bundle.min.js"] {
		t.Errorf("*.min.js should be excluded by default patterns: %v", files)
	}
}

func TestGroupByLanguage(t *testing.T) {
	s := NewScanner(scanConfig())
	groups := s.GroupByLanguage([]string{"/a/x.py", "/a/y.ts", "/a/z.py"})
	if len(groups["python"]) != 2 || len(groups["typescript"]) != 1 {
		t.Errorf("groups = %v", groups)
	}
}
