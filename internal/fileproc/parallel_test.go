package fileproc

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/GhrammR/the-janitor/pkg/parser"
)

func TestMapFilesCollectsResults(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
	}

	results := MapFiles(files, func(psr *parser.Parser, path string) (string, error) {
		return filepath.Base(path), nil
	})

	sort.Strings(results)
	want := []string{"a.py", "b.py", "c.py"}
	if len(results) != len(want) {
		t.Fatalf("results = %v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestMapFilesSkipsErrors(t *testing.T) {
	files := []string{"/a", "/b", "/c"}
	results := MapFiles(files, func(psr *parser.Parser, path string) (string, error) {
		if path == "/b" {
			return "", errors.New("boom")
		}
		return path, nil
	})

	if len(results) != 2 {
		t.Errorf("failed files should be skipped: %v", results)
	}
}

func TestMapFilesCollectErrors(t *testing.T) {
	files := []string{"/a", "/b"}
	results, errs := MapFilesCollectErrors(files, func(psr *parser.Parser, path string) (string, error) {
		if path == "/b" {
			return "", errors.New("boom")
		}
		return path, nil
	})

	if len(results) != 1 {
		t.Errorf("results = %v", results)
	}
	if errs == nil || !errs.HasErrors() || len(errs.Errors) != 1 {
		t.Errorf("errors = %v", errs)
	}
	if errs.Errors[0].Path != "/b" {
		t.Errorf("error path = %q", errs.Errors[0].Path)
	}
}

func TestProgressCallbackFiresPerFile(t *testing.T) {
	files := []string{"/a", "/b", "/c"}
	var ticks int64
	MapFilesWithProgress(files, func(psr *parser.Parser, path string) (int, error) {
		if path == "/b" {
			return 0, errors.New("boom")
		}
		return 1, nil
	}, func() { atomic.AddInt64(&ticks, 1) })

	if ticks != 3 {
		t.Errorf("progress should tick for every file including failures, got %d", ticks)
	}
}

func TestForEachFile(t *testing.T) {
	results := ForEachFile([]string{"/x", "/y"}, func(path string) (string, error) {
		return path + "!", nil
	})
	if len(results) != 2 {
		t.Errorf("results = %v", results)
	}
}

func TestEmptyInput(t *testing.T) {
	if got := MapFiles(nil, func(psr *parser.Parser, path string) (int, error) { return 0, nil }); got != nil {
		t.Errorf("empty input should return nil, got %v", got)
	}
	if got := ForEachFile(nil, func(path string) (int, error) { return 0, nil }); got != nil {
		t.Errorf("empty input should return nil, got %v", got)
	}
}
