// Package scanner discovers analyzable source files under a project root.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/GhrammR/the-janitor/pkg/config"
	"github.com/GhrammR/the-janitor/pkg/parser"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ExcludedDirs are vendored and build directories excluded wholesale by
// name, plus the tool's own trash and cache directories.
var ExcludedDirs = map[string]bool{
	"venv":           true,
	".venv":          true,
	"env":            true,
	".virtualenv":    true,
	"vendor":         true,
	"extern":         true,
	"third_party":    true,
	"node_modules":   true,
	"__pycache__":    true,
	"site-packages":  true,
	"dist":           true,
	"build":          true,
	".tox":           true,
	".git":           true,
	".janitor_trash": true,
	".janitor_cache": true,
}

// Scanner finds source files in a directory tree.
type Scanner struct {
	config   *config.Config
	matchers []gitignore.Matcher
}

// NewScanner creates a new file scanner.
func NewScanner(cfg *config.Config) *Scanner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Scanner{config: cfg}
}

// findGitRoot finds the root of the git repository by looking for a .git
// directory. Returns empty string if not in a git repository.
func findGitRoot(start string) string {
	dir := start
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadExcludePatterns combines config exclude patterns with .gitignore files
// found in the tree, both parsed as gitignore syntax.
func (s *Scanner) loadExcludePatterns(root string) {
	var patterns []gitignore.Pattern

	for _, pattern := range s.config.Exclude.Patterns {
		patterns = append(patterns, gitignore.ParsePattern(pattern, nil))
	}

	if s.config.Exclude.Gitignore {
		if gitRoot := findGitRoot(root); gitRoot != "" {
			fsys := osfs.New(gitRoot)
			if gitPatterns, err := gitignore.ReadPatterns(fsys, nil); err == nil {
				patterns = append(patterns, gitPatterns...)
			}
		}
	}

	if len(patterns) > 0 {
		s.matchers = append(s.matchers, gitignore.NewMatcher(patterns))
	}
}

// isExcluded checks if a relative path matches any exclusion pattern.
func (s *Scanner) isExcluded(relPath string, isDir bool) bool {
	if len(s.matchers) == 0 {
		return false
	}
	pathParts := strings.Split(relPath, string(filepath.Separator))
	for _, m := range s.matchers {
		if m.Match(pathParts, isDir) {
			return true
		}
	}
	return false
}

// excludedDir reports whether a directory name is excluded wholesale.
func (s *Scanner) excludedDir(name string) bool {
	if s.config.IncludeVendored {
		return name == ".git" || name == ".janitor_trash" || name == ".janitor_cache"
	}
	if ExcludedDirs[name] {
		return true
	}
	for _, dir := range s.config.Exclude.Dirs {
		if name == dir {
			return true
		}
	}
	return false
}

// ScanDir recursively scans a directory for source files of the configured
// language selector. Returned paths are canonical absolute paths (symlinks
// resolved) so the graphs never alias on separators.
func (s *Scanner) ScanDir(root string) ([]string, error) {
	files := make([]string, 0, 1024)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}

	s.loadExcludePatterns(absRoot)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		relPath, _ := filepath.Rel(absRoot, path)

		if d.IsDir() {
			if path != absRoot && s.excludedDir(d.Name()) {
				return filepath.SkipDir
			}
			if s.isExcluded(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks that escape the root.
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil || !isWithinRoot(resolved, absRoot) {
				return nil
			}
			path = resolved
		}

		if s.isExcluded(relPath, false) {
			return nil
		}

		lang := parser.DetectLanguage(path)
		if lang == parser.LangUnknown {
			return nil
		}
		if !s.config.Languages.Includes(lang) {
			return nil
		}
		files = append(files, path)

		return nil
	})

	return files, walkErr
}

// isWithinRoot checks if a path is contained within the root directory.
func isWithinRoot(path, root string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	root = filepath.Clean(root)
	return absPath == root || strings.HasPrefix(absPath, root+string(filepath.Separator))
}

// GroupByLanguage groups files by their detected language.
func (s *Scanner) GroupByLanguage(files []string) map[parser.Language][]string {
	groups := make(map[parser.Language][]string)
	for _, f := range files {
		lang := parser.DetectLanguage(f)
		if lang != parser.LangUnknown {
			groups[lang] = append(groups[lang], f)
		}
	}
	return groups
}
