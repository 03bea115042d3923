package janitor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/reaper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}

func newProject(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func pythonConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Languages = config.SelectPython
	cfg.Exclude.Gitignore = false
	return cfg
}

func deadNames(result *AuditResult) map[string]bool {
	names := make(map[string]bool)
	for _, s := range result.DeadSymbols {
		names[s.QualifiedName] = true
	}
	return names
}

// Private method blindness: the cross-module fallback keeps _helper alive.
func TestAuditPrivateMethodNotFalsePositive(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "app/a.py", `class C:
    def _helper(self):
        return 1

    def run(self):
        return self._helper()
`)
	writeFile(t, root, "app/b.py", `from a import C

C().run()
`)

	j, err := New(root, pythonConfig())
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, result.DeadSymbols, "expected zero dead symbols, got %v", deadNames(result))
}

func TestAuditFindsDeadSymbolAndOrphan(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "app/used.py", `def serve_request():
    return 1

serve_request()
`)
	orphan := writeFile(t, root, "app/forgotten.py", `def abandoned_routine():
    return 2
`)

	j, err := New(root, pythonConfig())
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, deadNames(result)["abandoned_routine"],
		"abandoned_routine should be dead; dead=%v", deadNames(result))
	assert.Contains(t, result.Orphans, orphan)
}

// Audit twice with no changes: the second run serves the identical result
// from the whole-project cache row without re-parsing.
func TestAuditCacheIdempotence(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "app/mod.py", `def lonely_unused_fn():
    return 1
`)

	j, err := New(root, pythonConfig())
	require.NoError(t, err)
	defer j.Close()

	first, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache, "unchanged project should hit the whole-project row")

	assert.Equal(t, deadNames(first), deadNames(second))
	assert.Equal(t, first.Orphans, second.Orphans)
}

func TestCleanNoDeadSymbolsIsNoOp(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "app/live.py", `def busy():
    return 1

busy()
`)

	cfg := pythonConfig()
	j, err := New(root, cfg)
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Clean(context.Background(), CleanOptions{TestCommand: "true"})
	require.NoError(t, err)
	assert.True(t, result.Committed)

	// No backup directory is created for a no-op clean.
	if _, err := os.Stat(filepath.Join(root, reaper.TrashDirName)); !os.IsNotExist(err) {
		t.Error("no-op clean must not create a trash directory")
	}
}

func TestCleanCommitsWhenTestsPass(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture is POSIX-only")
	}

	root := newProject(t)
	path := writeFile(t, root, "app/mod.py", `def keep_me():
    return 1

def drop_me_unused():
    return 2

keep_me()
`)

	cfg := pythonConfig()
	cfg.Cache.Enabled = false
	j, err := New(root, cfg)
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Clean(context.Background(), CleanOptions{TestCommand: "true"})
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.False(t, result.RolledBack)
	assert.Equal(t, 1, result.RemovedSymbols)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "drop_me_unused")
	assert.Contains(t, string(got), "keep_me")
}

// Rollback on new failure: after removal one test fails that passed at
// baseline; every touched file must be byte-identical afterwards and the
// manifest records rolled-back.
func TestCleanRollsBackOnNewFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixture is POSIX-only")
	}

	root := newProject(t)
	original := `def keep_me():
    return 1

def drop_me_unused():
    return 2

keep_me()
`
	path := writeFile(t, root, "app/mod.py", original)

	// The "suite" passes while drop_me_unused exists and reports a failed
	// test once it is gone.
	script := `#!/bin/sh
if grep -q drop_me_unused app/mod.py; then
  exit 0
fi
echo "FAILED tests/test_mod.py::test_needs_symbol"
exit 1
`
	scriptPath := filepath.Join(root, "check.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	cfg := pythonConfig()
	cfg.Cache.Enabled = false
	j, err := New(root, cfg)
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Clean(context.Background(), CleanOptions{TestCommand: "sh check.sh"})
	require.NoError(t, err)

	assert.True(t, result.RolledBack)
	assert.False(t, result.Committed)
	assert.Contains(t, result.NewFailures, "tests/test_mod.py::test_needs_symbol")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(got), "post-rollback content must byte-equal pre-mutation")
}

func TestCleanDryRunTouchesNothing(t *testing.T) {
	root := newProject(t)
	original := `def floating_unused_fn():
    return 3
`
	path := writeFile(t, root, "app/mod.py", original)

	cfg := pythonConfig()
	cfg.Cache.Enabled = false
	j, err := New(root, cfg)
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Clean(context.Background(), CleanOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.NotZero(t, result.RemovedSymbols)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(got))

	if _, err := os.Stat(filepath.Join(root, reaper.TrashDirName)); !os.IsNotExist(err) {
		t.Error("dry run must not create a trash directory")
	}
}

func TestMetaprogrammingQuarantineEndToEnd(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "app/dispatch.py", `def aa_target():
    return 1

def bb_target():
    return 2

def call(name):
    return getattr(__import__('dispatch'), name)()
`)

	j, err := New(root, pythonConfig())
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)

	dead := deadNames(result)
	assert.False(t, dead["aa_target"], "metaprogramming files are quarantined")
	assert.False(t, dead["bb_target"], "metaprogramming files are quarantined")
}

func TestConfigReferenceEndToEnd(t *testing.T) {
	root := newProject(t)
	writeFile(t, root, "serverless.yml", `functions:
  upload:
    handler: handlers.image.upload
`)
	writeFile(t, root, "handlers/image.py", `def upload(event, ctx):
    return "ok"
`)

	j, err := New(root, pythonConfig())
	require.NoError(t, err)
	defer j.Close()

	result, err := j.Audit(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, deadNames(result)["upload"], "serverless handler must survive")
}
